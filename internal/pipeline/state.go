package pipeline

import (
	"github.com/braindock/braindock/internal/agents"
	"github.com/braindock/braindock/internal/gate"
	"github.com/braindock/braindock/internal/taskgraph"
)

// Mode is the coordinator's current pipeline stage.
type Mode string

const (
	ModeSpecification Mode = "specification"
	ModeTaskGraph     Mode = "task_graph"
	ModePlanning      Mode = "planning"
	ModeMarketStudy   Mode = "market_study"
	ModeController    Mode = "controller"
	ModeExecution     Mode = "execution"
	ModeReflection    Mode = "reflection"
	ModeDebate        Mode = "debate"
	ModeSkillLearning Mode = "skill_learning"
	ModeDone          Mode = "done"
)

// State is the full run snapshot persisted after every transition.
// The JSON field names are the on-disk checkpoint format; loaders must
// tolerate missing fields from older snapshots.
type State struct {
	Title       string `json:"title"`
	Problem     string `json:"problem"`
	CurrentMode Mode   `json:"current_mode"`

	Spec      *agents.Spec        `json:"spec,omitempty"`
	TaskGraph *taskgraph.Snapshot `json:"task_graph,omitempty"`
	GateState *gate.State         `json:"gate_state,omitempty"`

	Plans               []*agents.Plan             `json:"plans"`
	ExecutionResults    []*agents.ExecutionResult  `json:"execution_results"`
	VerificationResults []*agents.VerifyResult     `json:"verification_results"`
	Reflections         []*agents.ReflectionResult `json:"reflections"`
	Debates             []*agents.DebateOutcome    `json:"debates"`
	MarketStudies       []*agents.MarketStudy      `json:"market_studies"`
	LearnedSkills       []*agents.Skill            `json:"learned_skills"`
	Escalations         []*Escalation              `json:"escalations"`

	CompletedTasks []string `json:"completed_tasks"`
	FailedTasks    []string `json:"failed_tasks"`

	Error string `json:"error,omitempty"`
}

// NewState creates a fresh snapshot for a new run.
func NewState(title, problem string) *State {
	return &State{
		Title:       title,
		Problem:     problem,
		CurrentMode: ModeSpecification,
	}
}

// HasSpecification reports whether the snapshot carries a usable
// specification; resume uses this to skip the specify/decompose stages.
func (s *State) HasSpecification() bool {
	return s.Spec != nil && s.Spec.Overview != "" && s.TaskGraph != nil && len(s.TaskGraph.Tasks) > 0
}

// IsCompleted reports whether the task id is in the completed list.
func (s *State) IsCompleted(id string) bool {
	for _, done := range s.CompletedTasks {
		if done == id {
			return true
		}
	}
	return false
}

// RemoveFailed deletes a task id from the failed list, for resume
// retries.
func (s *State) RemoveFailed(id string) {
	kept := s.FailedTasks[:0]
	for _, f := range s.FailedTasks {
		if f != id {
			kept = append(kept, f)
		}
	}
	s.FailedTasks = kept
}

// Clone returns a deep-enough copy for publication to readers: the
// slices are copied so later coordinator appends cannot race a reader,
// while the immutable elements are shared.
func (s *State) Clone() *State {
	out := *s
	out.Plans = append([]*agents.Plan(nil), s.Plans...)
	out.ExecutionResults = append([]*agents.ExecutionResult(nil), s.ExecutionResults...)
	out.VerificationResults = append([]*agents.VerifyResult(nil), s.VerificationResults...)
	out.Reflections = append([]*agents.ReflectionResult(nil), s.Reflections...)
	out.Debates = append([]*agents.DebateOutcome(nil), s.Debates...)
	out.MarketStudies = append([]*agents.MarketStudy(nil), s.MarketStudies...)
	out.LearnedSkills = append([]*agents.Skill(nil), s.LearnedSkills...)
	out.Escalations = append([]*Escalation(nil), s.Escalations...)
	out.CompletedTasks = append([]string(nil), s.CompletedTasks...)
	out.FailedTasks = append([]string(nil), s.FailedTasks...)
	return &out
}
