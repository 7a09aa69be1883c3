package agents

import (
	"context"
	"fmt"

	"github.com/braindock/braindock/internal/taskgraph"
)

const marketSystemPrompt = `You are a market analyst. You research the competitive
landscape around a product task and produce actionable guidance for the
implementation planner. Be specific: name real competitors and concrete
differentiators, not generic advice.`

// AnalyzeMarket produces a market study for a market-tagged task.
func (a *LLMAgents) AnalyzeMarket(ctx context.Context, task *taskgraph.Node, spec *Spec) (*MarketStudy, error) {
	a.setStage("market_analyst", "market_study")

	prompt := fmt.Sprintf(`Specification:
%s

Task %s: %s
%s

Respond with JSON:
{
  "task_id": "%s",
  "competitors": ["..."],
  "recommendations": ["<specific guidance the implementation plan should follow>"],
  "risks": ["..."],
  "target_audience": "...",
  "positioning": "..."
}`, SpecContext(spec), task.ID, task.Title, task.Description, task.ID)

	var study MarketStudy
	if err := queryJSON(ctx, a.backend, marketSystemPrompt, prompt, &study); err != nil {
		return nil, fmt.Errorf("market study for task %s failed: %w", task.ID, err)
	}
	if study.TaskID == "" {
		study.TaskID = task.ID
	}
	return &study, nil
}
