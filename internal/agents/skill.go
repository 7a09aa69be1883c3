package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/braindock/braindock/internal/taskgraph"
)

const skillSystemPrompt = `You extract reusable skills from successful task
executions. A skill is a pattern another task could apply: a technique,
a command sequence, a code structure. Most executions contain nothing
worth keeping; in that case say so instead of inventing one.`

// ExtractSkill distills a reusable pattern from a successful
// execution. Returns (nil, nil) when the execution held nothing worth
// keeping.
func (a *LLMAgents) ExtractSkill(ctx context.Context, task *taskgraph.Node, plan *Plan, exec *ExecutionResult) (*Skill, error) {
	a.setStage("skill_learner", "skill_learning")

	planJSON, _ := json.MarshalIndent(plan, "", "  ")
	execJSON, _ := json.MarshalIndent(exec, "", "  ")

	prompt := fmt.Sprintf(`Task %s: %s

The plan that succeeded:
%s

The execution result:
%s

Respond with JSON:
{
  "worth_keeping": true,
  "skill": {
    "id": "<kebab-case-slug>",
    "name": "...",
    "description": "<when and how to apply this>",
    "tags": ["..."],
    "pattern": "<the generalized technique>",
    "example_code": "<optional snippet>"
  }
}

Set worth_keeping to false when the execution was routine.`, task.ID, task.Title, planJSON, execJSON)

	var resp struct {
		WorthKeeping bool   `json:"worth_keeping"`
		Skill        *Skill `json:"skill"`
	}
	if err := queryJSON(ctx, a.backend, skillSystemPrompt, prompt, &resp); err != nil {
		return nil, fmt.Errorf("skill extraction for task %s failed: %w", task.ID, err)
	}
	if !resp.WorthKeeping || resp.Skill == nil || resp.Skill.Name == "" {
		return nil, nil
	}

	skill := resp.Skill
	if skill.ID == "" {
		skill.ID = strings.ToLower(strings.ReplaceAll(skill.Name, " ", "-"))
	}
	skill.SourceTask = task.ID
	return skill, nil
}
