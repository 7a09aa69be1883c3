package agents

// Question is a clarifying question routed to the human operator.
type Question struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Why      string   `json:"why,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Decision is a choice an agent made autonomously, surfaced to the
// operator for transparency rather than confirmation.
type Decision struct {
	ID       string `json:"id"`
	Topic    string `json:"topic"`
	Decision string `json:"decision"`
}

// AskFunc delivers questions to the human front end and blocks until
// answers arrive. The returned map is keyed by question id. An empty
// question set must return immediately with no answers.
type AskFunc func(questions []Question, decisions []Decision, understanding string) (map[string]string, error)

// Spec is the project specification produced by the specify stage.
type Spec struct {
	Title         string   `json:"title"`
	Overview      string   `json:"overview"`
	Requirements  []string `json:"requirements"`
	Constraints   []string `json:"constraints"`
	Assumptions   []string `json:"assumptions"`
	OpenQuestions []string `json:"open_questions"`
}

// ActionStep is a single step in an action plan.
type ActionStep struct {
	ID             string `json:"id"`
	Action         string `json:"action"`
	Description    string `json:"description"`
	Tool           string `json:"tool,omitempty"` // write_file | run_command | edit_file | test
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// PlanMetrics carries the planner's self-assessment, consumed by the
// plan quality gate.
type PlanMetrics struct {
	Confidence     float64 `json:"confidence"`
	Entropy        float64 `json:"entropy"`
	EstimatedSteps int     `json:"estimated_steps,omitempty"`
	Complexity     string  `json:"complexity,omitempty"`
}

// Plan is a complete action plan for one task.
type Plan struct {
	TaskID         string       `json:"task_id"`
	TaskTitle      string       `json:"task_title"`
	Steps          []ActionStep `json:"steps"`
	Metrics        PlanMetrics  `json:"metrics"`
	RelevantSkills []string     `json:"relevant_skills,omitempty"`
	Assumptions    []string     `json:"assumptions,omitempty"`
	Context        string       `json:"context,omitempty"` // extra guidance, e.g. an operator hint
}

// StepOutcome is the result of executing one plan step.
type StepOutcome struct {
	StepID       string `json:"step_id"`
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
	AffectedFile string `json:"affected_file,omitempty"`
}

// ExecutionResult is the outcome of executing a whole plan.
type ExecutionResult struct {
	TaskID         string        `json:"task_id"`
	Success        bool          `json:"success"`
	Outcomes       []StepOutcome `json:"outcomes"`
	StepsCompleted int           `json:"steps_completed"`
	StepsTotal     int           `json:"steps_total"`
	FailureCount   int           `json:"failure_count"`
	StopReason     string        `json:"stop_reason,omitempty"`
	GeneratedFiles []string      `json:"generated_files,omitempty"`
}

// VerifyResult is the outcome of running project verification.
type VerifyResult struct {
	Success         bool   `json:"success"`
	Command         string `json:"command,omitempty"`
	Stdout          string `json:"stdout,omitempty"`
	Stderr          string `json:"stderr,omitempty"`
	ExitCode        int    `json:"exit_code"`
	ErrorSummary    string `json:"error_summary,omitempty"`
	DetectionMethod string `json:"detection_method,omitempty"`
}

// RootCause is one identified cause of a failed execution.
type RootCause struct {
	Description string  `json:"description"`
	Category    string  `json:"category,omitempty"` // missing_dependency | wrong_approach | env_issue | ...
	Confidence  float64 `json:"confidence,omitempty"`
}

// ReflectionResult is the root-cause analysis of a failed execution.
// NeedsHuman flags situations no retry can fix (missing credentials,
// external setup, a physical action) and triggers escalation.
type ReflectionResult struct {
	RootCauses       []RootCause `json:"root_causes,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	ShouldRetry      bool        `json:"should_retry"`
	ModifiedPlan     *Plan       `json:"modified_plan,omitempty"`
	NeedsHuman       bool        `json:"needs_human,omitempty"`
	EscalationReason string      `json:"escalation_reason,omitempty"`
}

// DebateProposal is one perspective's plan put forward during debate.
type DebateProposal struct {
	Perspective string   `json:"perspective"`
	Approach    string   `json:"approach"`
	Strengths   []string `json:"strengths,omitempty"`
	Weaknesses  []string `json:"weaknesses,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// DebateOutcome is the converged result of a debate round.
type DebateOutcome struct {
	Proposals       []DebateProposal `json:"proposals,omitempty"`
	WinningApproach string           `json:"winning_approach,omitempty"`
	Synthesis       string           `json:"synthesis,omitempty"`
	ImprovedPlan    *Plan            `json:"improved_plan,omitempty"`
	RoundsUsed      int              `json:"rounds_used,omitempty"`
	Converged       bool             `json:"converged,omitempty"`
}

// MarketStudy is the analyst's output for a market-tagged task.
type MarketStudy struct {
	TaskID          string   `json:"task_id"`
	Competitors     []string `json:"competitors,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Risks           []string `json:"risks,omitempty"`
	TargetAudience  string   `json:"target_audience,omitempty"`
	Positioning     string   `json:"positioning,omitempty"`
}

// ContextString formats the study for inclusion in later prompts.
func (m *MarketStudy) ContextString() string {
	out := "Market study for task " + m.TaskID + ":"
	if m.TargetAudience != "" {
		out += "\nTarget audience: " + m.TargetAudience
	}
	if m.Positioning != "" {
		out += "\nPositioning: " + m.Positioning
	}
	for _, r := range m.Recommendations {
		out += "\n- " + r
	}
	return out
}

// Skill is a reusable pattern extracted from a successful execution.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	ExampleCode string   `json:"example_code,omitempty"`
	SourceTask  string   `json:"source_task,omitempty"`
	UsageCount  int      `json:"usage_count,omitempty"`
}

// SkillRef is the compact form of a skill handed to the planner.
type SkillRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
