package taskgraph

import (
	"fmt"
	"sync"

	"github.com/gammazero/toposort"
)

// Graph is a dependency graph of task nodes. Nodes keep their insertion
// order, which is the tie-break for ready-task selection. The graph is
// built once from a decomposition result and then only mutated through
// MarkCompleted/MarkFailed as the run progresses.
type Graph struct {
	mu           sync.RWMutex
	projectTitle string
	nodes        []*Node
	byID         map[string]*Node
}

// Snapshot is the serialized form of a Graph, stored inside the run
// checkpoint. Field names are part of the checkpoint file contract.
type Snapshot struct {
	ProjectTitle string  `json:"project_title"`
	Tasks        []*Node `json:"tasks"`
}

// New creates a graph from decomposed task nodes. Nodes with empty or
// duplicate ids are dropped rather than rejected: a partially usable
// graph still lets the run make progress.
func New(projectTitle string, nodes []*Node) *Graph {
	g := &Graph{
		projectTitle: projectTitle,
		byID:         make(map[string]*Node),
	}
	for _, n := range nodes {
		if n == nil || n.ID == "" {
			continue
		}
		if _, exists := g.byID[n.ID]; exists {
			continue
		}
		cp := cloneNode(n)
		if cp.Status == "" {
			cp.Status = StatusPending
		}
		g.nodes = append(g.nodes, cp)
		g.byID[cp.ID] = cp
	}
	return g
}

// FromSnapshot rebuilds a graph from its checkpoint form.
func FromSnapshot(s *Snapshot) *Graph {
	if s == nil {
		return New("", nil)
	}
	return New(s.ProjectTitle, s.Tasks)
}

// Snapshot returns the serializable form of the graph.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		tasks = append(tasks, cloneNode(n))
	}
	return &Snapshot{ProjectTitle: g.projectTitle, Tasks: tasks}
}

// ProjectTitle returns the title the graph was decomposed for.
func (g *Graph) ProjectTitle() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.projectTitle
}

// Get returns a copy of the node with the given id.
func (g *Graph) Get(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.byID[id]
	if !ok {
		return nil, false
	}
	return cloneNode(n), true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, cloneNode(n))
	}
	return out
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// ReadyTasks returns pending nodes whose dependencies are all completed.
// Used for incremental scheduling on resume rather than full-graph
// wave planning.
func (g *Graph) ReadyTasks() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	completed := g.completedSetLocked()

	var ready []*Node
	for _, n := range g.nodes {
		if n.Status != StatusPending {
			continue
		}
		if depsSatisfied(n, completed) {
			ready = append(ready, cloneNode(n))
		}
	}
	return ready
}

// ParallelGroups computes execution waves: topological layers of pending
// nodes, each executable in parallel once all earlier waves are done.
// If at some point no pending node is satisfiable (a true cycle, or a
// dependency id that does not exist), all remaining pending nodes are
// emitted as one final wave so the run still makes progress instead of
// deadlocking. Callers must tolerate that final wave containing nodes
// whose declared dependencies were never satisfied.
func (g *Graph) ParallelGroups() [][]*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	completed := g.completedSetLocked()

	var remaining []*Node
	for _, n := range g.nodes {
		if n.Status == StatusPending {
			remaining = append(remaining, n)
		}
	}

	var groups [][]*Node
	for len(remaining) > 0 {
		var ready []*Node
		for _, n := range remaining {
			if depsSatisfied(n, completed) {
				ready = append(ready, n)
			}
		}

		if len(ready) == 0 {
			// Unresolvable dependency structure: emit everything left
			// as a single final wave rather than failing.
			last := make([]*Node, 0, len(remaining))
			for _, n := range remaining {
				last = append(last, cloneNode(n))
			}
			groups = append(groups, last)
			break
		}

		wave := make([]*Node, 0, len(ready))
		for _, n := range ready {
			wave = append(wave, cloneNode(n))
			completed[n.ID] = true
		}
		groups = append(groups, wave)

		next := remaining[:0]
		for _, n := range remaining {
			if !completed[n.ID] {
				next = append(next, n)
			}
		}
		remaining = next
	}

	return groups
}

// MarkCompleted sets a node to completed and records its output.
// Unknown ids are a no-op.
func (g *Graph) MarkCompleted(id, output string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.byID[id]; ok {
		n.Status = StatusCompleted
		n.Output = output
	}
}

// MarkFailed sets a node to failed and records its output.
// Unknown ids are a no-op.
func (g *Graph) MarkFailed(id, output string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.byID[id]; ok {
		n.Status = StatusFailed
		n.Output = output
	}
}

// ResetFailed flips failed nodes back to pending so a resumed run
// re-attempts them. Returns the ids that were reset.
func (g *Graph) ResetFailed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var reset []string
	for _, n := range g.nodes {
		if n.Status == StatusFailed {
			n.Status = StatusPending
			n.Output = ""
			reset = append(reset, n.ID)
		}
	}
	return reset
}

// AllCompleted reports whether every node finished successfully.
func (g *Graph) AllCompleted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, n := range g.nodes {
		if n.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Validate runs a strict topological check over the graph: every
// dependency id must exist and the graph must be acyclic. This is an
// opt-in diagnostic pass; scheduling itself deliberately tolerates bad
// graphs via the final-wave policy in ParallelGroups.
func (g *Graph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, fmt.Errorf("task %q depends on itself", n.ID)
			}
			if _, exists := g.byID[dep]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", n.ID, dep)
			}
		}
	}

	var edges []toposort.Edge
	for _, n := range g.nodes {
		if len(n.DependsOn) == 0 {
			// Edge from nil keeps isolated nodes in the sort result.
			edges = append(edges, toposort.Edge{nil, n.ID})
			continue
		}
		for _, dep := range n.DependsOn {
			edges = append(edges, toposort.Edge{dep, n.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// completedSetLocked returns the ids of already-completed nodes.
// Callers must hold at least a read lock.
func (g *Graph) completedSetLocked() map[string]bool {
	completed := make(map[string]bool)
	for _, n := range g.nodes {
		if n.Status == StatusCompleted {
			completed[n.ID] = true
		}
	}
	return completed
}

func depsSatisfied(n *Node, completed map[string]bool) bool {
	for _, dep := range n.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}
