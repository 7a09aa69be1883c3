package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/braindock/braindock/internal/taskgraph"
)

const planSystemPrompt = `You are an implementation planner. You produce step-by-step
action plans for a single task. Each step must be executable by an
automated agent with file and shell access. You also assess your own
plan: confidence is how likely the plan succeeds as written (0.0-1.0),
entropy is how much ambiguity remains about the right approach
(0.0 = one obvious way, 1.0 = several plausible ways with unclear
tradeoffs). Be honest in both; downstream quality gates depend on it.`

// Plan produces an action plan for one task.
func (a *LLMAgents) Plan(ctx context.Context, task *taskgraph.Node, spec *Spec, skills []SkillRef, marketContext string) (*Plan, error) {
	a.setStage("planner", "planning")

	var extra strings.Builder
	if len(skills) > 0 {
		extra.WriteString("\nReusable skills from earlier work (reference by id in relevant_skills):\n")
		for _, s := range skills {
			extra.WriteString(fmt.Sprintf("- %s: %s — %s\n", s.ID, s.Name, s.Description))
		}
	}
	if marketContext != "" {
		extra.WriteString("\n" + marketContext + "\n")
	}

	prompt := fmt.Sprintf(`Specification:
%s

Task %s: %s
%s
%s
Respond with JSON:
{
  "task_id": "%s",
  "task_title": "%s",
  "steps": [
    {"id": "s1", "action": "...", "description": "...", "tool": "write_file|run_command|edit_file|test", "expected_output": "..."}
  ],
  "metrics": {"confidence": 0.0, "entropy": 0.0, "estimated_steps": 0, "complexity": "low|medium|high"},
  "relevant_skills": [],
  "assumptions": []
}`, SpecContext(spec), task.ID, task.Title, task.Description, extra.String(), task.ID, task.Title)

	var plan Plan
	if err := queryJSON(ctx, a.backend, planSystemPrompt, prompt, &plan); err != nil {
		return nil, fmt.Errorf("planning task %s failed: %w", task.ID, err)
	}
	if plan.TaskID == "" {
		plan.TaskID = task.ID
	}
	if plan.TaskTitle == "" {
		plan.TaskTitle = task.Title
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planner returned empty plan for task %s", task.ID)
	}
	return &plan, nil
}
