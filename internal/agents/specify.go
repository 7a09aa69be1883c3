package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const specifySystemPrompt = `You are a requirements analyst. You turn a raw problem
statement into a precise project specification. Before writing the
specification you may ask the project owner a small number of clarifying
questions, but only where the answer genuinely changes what gets built.
Prefer making a reasonable decision yourself and recording it.`

// specifyIntake is the first-pass response: the analyst's understanding
// plus anything it needs from the operator.
type specifyIntake struct {
	Understanding string     `json:"understanding"`
	Questions     []Question `json:"questions"`
	Decisions     []Decision `json:"decisions"`
}

// Specify runs the two-phase specification stage: an intake pass that
// may block on operator answers, then the specification itself.
func (a *LLMAgents) Specify(ctx context.Context, title, problem string, ask AskFunc) (*Spec, error) {
	a.setStage("spec_analyst", "specification")

	intakePrompt := fmt.Sprintf(`Project: %s

Problem statement:
%s

Respond with JSON:
{
  "understanding": "<one paragraph restating the problem in your own words>",
  "questions": [{"id": "q1", "question": "...", "why": "...", "options": ["...", "..."]}],
  "decisions": [{"id": "d1", "topic": "...", "decision": "..."}]
}

Ask at most 3 questions. Leave "questions" empty when the problem is
clear enough to specify.`, title, problem)

	var intake specifyIntake
	if err := queryJSON(ctx, a.backend, specifySystemPrompt, intakePrompt, &intake); err != nil {
		return nil, fmt.Errorf("specification intake failed: %w", err)
	}

	answers := map[string]string{}
	if len(intake.Questions) > 0 && ask != nil {
		var err error
		answers, err = ask(intake.Questions, intake.Decisions, intake.Understanding)
		if err != nil {
			return nil, fmt.Errorf("clarification round failed: %w", err)
		}
	}

	specPrompt := fmt.Sprintf(`Project: %s

Problem statement:
%s
%s
Write the project specification. Respond with JSON:
{
  "title": "...",
  "overview": "<what the project is and does>",
  "requirements": ["..."],
  "constraints": ["..."],
  "assumptions": ["<decisions you made where the owner gave no direction>"],
  "open_questions": ["<unresolved items that do not block building>"]
}`, title, problem, formatAnswers(intake.Questions, answers))

	var spec Spec
	if err := queryJSON(ctx, a.backend, specifySystemPrompt, specPrompt, &spec); err != nil {
		return nil, fmt.Errorf("specification failed: %w", err)
	}
	if spec.Title == "" {
		spec.Title = title
	}
	return &spec, nil
}

// formatAnswers renders operator answers as a prompt section. Empty
// when there were no questions.
func formatAnswers(questions []Question, answers map[string]string) string {
	if len(answers) == 0 {
		return "\n"
	}
	var b strings.Builder
	b.WriteString("\nThe project owner answered your questions:\n")
	for _, q := range questions {
		if ans, ok := answers[q.ID]; ok && ans != "" {
			b.WriteString("- Q: " + q.Question + "\n  A: " + ans + "\n")
		}
	}
	b.WriteString("\n")
	return b.String()
}

// SpecContext renders a spec for inclusion in later stage prompts.
func SpecContext(spec *Spec) string {
	if spec == nil {
		return ""
	}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return spec.Overview
	}
	return string(data)
}
