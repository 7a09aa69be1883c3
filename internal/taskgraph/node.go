package taskgraph

// Status represents the current state of a task node.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Effort is an advisory sizing hint produced by decomposition.
// The scheduler does not interpret it.
type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

// Node is a single task in the graph.
type Node struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DependsOn       []string `json:"depends_on"`
	EstimatedEffort Effort   `json:"estimated_effort"`
	Tags            []string `json:"tags"`
	Status          Status   `json:"status"`
	Output          string   `json:"output,omitempty"`
}

// HasTag reports whether the node carries the given tag.
func (n *Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}

	cp := *n
	if n.DependsOn != nil {
		cp.DependsOn = append([]string(nil), n.DependsOn...)
	}
	if n.Tags != nil {
		cp.Tags = append([]string(nil), n.Tags...)
	}
	return &cp
}
