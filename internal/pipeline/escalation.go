package pipeline

import (
	"time"

	"github.com/braindock/braindock/internal/agents"
)

// EscalationAction is the operator's 3-way decision.
type EscalationAction string

const (
	EscalationSkip  EscalationAction = "skip"
	EscalationRetry EscalationAction = "retry"
	EscalationAbort EscalationAction = "abort"
)

// Escalation records one human-in-the-loop decision point. It is
// appended to the snapshot before the decision is acted on, so a crash
// mid-escalation leaves a recoverable trail.
type Escalation struct {
	TS       float64           `json:"ts"`
	TaskID   string            `json:"task_id"`
	Reason   string            `json:"reason"`
	Action   EscalationAction  `json:"action,omitempty"`
	Hint     string            `json:"hint,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`
	Resolved bool              `json:"resolved"`
}

// escalationQuestions builds the synthetic question set every
// escalation presents: a fixed-choice action question and a free-text
// hint. Both front ends consume this contract identically.
func escalationQuestions(taskTitle, reason string) []agents.Question {
	return []agents.Question{
		{
			ID:       "escalation_action",
			Question: "Task \"" + taskTitle + "\" needs a decision: " + reason,
			Why:      "Automatic recovery is exhausted or impossible for this task.",
			Options:  []string{string(EscalationSkip), string(EscalationRetry), string(EscalationAbort)},
		},
		{
			ID:       "escalation_hint",
			Question: "Optional guidance for the retry (leave empty to skip)",
			Why:      "A hint is appended to the plan context on retry.",
		},
	}
}

// parseEscalationAnswers normalizes the operator's response. Anything
// that is not an explicit retry or abort resolves to skip.
func parseEscalationAnswers(answers map[string]string) (EscalationAction, string) {
	action := EscalationAction(answers["escalation_action"])
	switch action {
	case EscalationRetry, EscalationAbort:
	default:
		action = EscalationSkip
	}
	return action, answers["escalation_hint"]
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
