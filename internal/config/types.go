package config

// BackendConfig configures the LLM backend subprocess.
type BackendConfig struct {
	Command       string `json:"command"`         // CLI binary name, e.g. "claude"
	Model         string `json:"model,omitempty"` // model override
	QueryTimeout  int    `json:"query_timeout"`   // seconds per LLM query
	StepTimeout   int    `json:"step_timeout"`    // seconds per execution step
	VerifyTimeout int    `json:"verify_timeout"`  // seconds for project verification
}

// RunConfig is the top-level configuration for a pipeline run.
type RunConfig struct {
	OutputRoot              string        `json:"output_root"`               // where run checkpoints and projects live
	MaxTaskRetries          int           `json:"max_task_retries"`          // reflect-retry attempts per task
	MaxReflectionIterations int           `json:"max_reflection_iterations"` // reflection gate budget
	MaxDebateRounds         int           `json:"max_debate_rounds"`         // debate gate budget
	MaxFailures             int           `json:"max_failures"`              // run-wide failure budget
	MinConfidence           float64       `json:"min_confidence"`            // plan gate threshold
	MaxEntropy              float64       `json:"max_entropy"`               // plan gate threshold
	SkipExecution           bool          `json:"skip_execution"`            // plan-only dry runs
	SkipSkillLearning       bool          `json:"skip_skill_learning"`       // disable the skill bank stage
	EnableHumanEscalation   bool          `json:"enable_human_escalation"`   // escalate instead of auto-skip
	EscalationTokenBudget   int           `json:"escalation_token_budget"`   // per-task token budget, 0 disables
	ServerPort              int           `json:"server_port"`               // dashboard API port
	Backend                 BackendConfig `json:"backend"`
}
