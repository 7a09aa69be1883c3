package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/braindock/braindock/internal/taskgraph"
)

const debateSystemPrompt = `You simulate a design debate between three perspectives:
a pragmatist (ship the simplest thing that works), an architect (favor
the structurally sound approach), and a skeptic (attack both for hidden
risk). Run the debate internally and report the converged outcome. The
improved plan must resolve the ambiguity that triggered the debate, not
just restate the original plan.`

// Debate runs a multi-perspective debate over a contested plan.
func (a *LLMAgents) Debate(ctx context.Context, task *taskgraph.Node, plan *Plan, reason string) (*DebateOutcome, error) {
	a.setStage("debater", "debate")

	planJSON, _ := json.MarshalIndent(plan, "", "  ")

	prompt := fmt.Sprintf(`Task %s: %s

The contested plan:
%s

Why it is contested: %s

Debate the approach and converge. Respond with JSON:
{
  "proposals": [{"perspective": "pragmatist", "approach": "...", "strengths": [], "weaknesses": [], "confidence": 0.0}],
  "winning_approach": "...",
  "synthesis": "<how the perspectives were reconciled>",
  "improved_plan": { ... same shape as the original plan ... },
  "converged": true
}`, task.ID, task.Title, planJSON, reason)

	var outcome DebateOutcome
	if err := queryJSON(ctx, a.backend, debateSystemPrompt, prompt, &outcome); err != nil {
		return nil, fmt.Errorf("debate for task %s failed: %w", task.ID, err)
	}
	outcome.RoundsUsed = 1
	if outcome.ImprovedPlan != nil && outcome.ImprovedPlan.TaskID == "" {
		outcome.ImprovedPlan.TaskID = task.ID
	}
	return &outcome, nil
}
