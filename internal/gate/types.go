package gate

// Action is the decision a gate check resolves to.
type Action string

const (
	ActionProceed Action = "proceed"
	ActionReflect Action = "reflect"
	ActionDebate  Action = "debate"
	ActionAbort   Action = "abort"
)

// Thresholds is the immutable gate configuration for a run.
type Thresholds struct {
	MinConfidence           float64 `json:"min_confidence"`
	MaxEntropy              float64 `json:"max_entropy"`
	MaxFailures             int     `json:"max_failures"`
	MaxReflectionIterations int     `json:"max_reflection_iterations"`
	MaxDebateRounds         int     `json:"max_debate_rounds"`
}

// DefaultThresholds returns the standard gate configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence:           0.6,
		MaxEntropy:              0.7,
		MaxFailures:             3,
		MaxReflectionIterations: 2,
		MaxDebateRounds:         3,
	}
}

// Result is the immutable outcome of one gate check.
type Result struct {
	GateName string             `json:"gate_name"`
	Passed   bool               `json:"passed"`
	Action   Action             `json:"action"`
	Reason   string             `json:"reason"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// State holds the mutable counters for one run. The counters are
// run-global: they accumulate across every task the run processes and
// are never decremented or reset between tasks.
type State struct {
	FailureCount    int      `json:"failure_count"`
	ReflectionCount int      `json:"reflection_count"`
	DebateCount     int      `json:"debate_count"`
	GateHistory     []Result `json:"gate_history"`
}
