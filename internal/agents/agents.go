package agents

import (
	"context"

	"github.com/braindock/braindock/internal/taskgraph"
)

// StageAgents is the LLM-facing surface the pipeline coordinator works
// against. Each method covers one pipeline stage; implementations own
// their prompts and response parsing. Fakes implement this in tests.
type StageAgents interface {
	// Specify turns a raw problem statement into a structured
	// specification, asking the operator clarifying questions through
	// ask when the problem is ambiguous.
	Specify(ctx context.Context, title, problem string, ask AskFunc) (*Spec, error)

	// Decompose breaks a specification into a dependency-ordered set
	// of tasks.
	Decompose(ctx context.Context, spec *Spec) ([]*taskgraph.Node, error)

	// Plan produces an action plan for one task. skills and
	// marketContext are optional enrichment.
	Plan(ctx context.Context, task *taskgraph.Node, spec *Spec, skills []SkillRef, marketContext string) (*Plan, error)

	// Reflect analyzes a failed execution and proposes a way forward.
	Reflect(ctx context.Context, task *taskgraph.Node, plan *Plan, exec *ExecutionResult, verify *VerifyResult) (*ReflectionResult, error)

	// Debate runs a multi-perspective debate over a contested plan and
	// returns the converged outcome.
	Debate(ctx context.Context, task *taskgraph.Node, plan *Plan, reason string) (*DebateOutcome, error)

	// AnalyzeMarket produces a market study for a market-tagged task.
	AnalyzeMarket(ctx context.Context, task *taskgraph.Node, spec *Spec) (*MarketStudy, error)

	// ExtractSkill distills a reusable pattern from a successful
	// execution. A nil skill with nil error means nothing worth keeping.
	ExtractSkill(ctx context.Context, task *taskgraph.Node, plan *Plan, exec *ExecutionResult) (*Skill, error)
}

// LLMAgents implements StageAgents over a Backend. When the backend is
// a LoggingBackend, each call is labeled with its stage for the
// dashboard's LLM log.
type LLMAgents struct {
	backend Backend
	logging *LoggingBackend
}

// NewLLMAgents creates the stage agents over b.
func NewLLMAgents(b Backend) *LLMAgents {
	a := &LLMAgents{backend: b}
	if lb, ok := b.(*LoggingBackend); ok {
		a.logging = lb
	}
	return a
}

func (a *LLMAgents) setStage(agent, stage string) {
	if a.logging != nil {
		a.logging.SetStage(agent, stage)
	}
}
