package agents

import (
	"context"
	"fmt"

	"github.com/braindock/braindock/internal/taskgraph"
)

const decomposeSystemPrompt = `You are a technical project planner. You break a project
specification into concrete, independently executable tasks with explicit
dependencies. Tasks must be small enough to complete in one focused
session. Dependencies may only reference task ids you define in the same
response.`

// Decompose breaks the specification into dependency-ordered tasks.
func (a *LLMAgents) Decompose(ctx context.Context, spec *Spec) ([]*taskgraph.Node, error) {
	a.setStage("task_planner", "task_graph")

	prompt := fmt.Sprintf(`Specification:
%s

Break this into tasks. Respond with JSON:
{
  "tasks": [
    {
      "id": "t1",
      "title": "...",
      "description": "<what to build and how to know it is done>",
      "depends_on": [],
      "estimated_effort": "small|medium|large",
      "tags": []
    }
  ]
}

Use the tag "market" for tasks that would benefit from competitor or
audience research before planning. Aim for 3-12 tasks.`, SpecContext(spec))

	var resp struct {
		Tasks []*taskgraph.Node `json:"tasks"`
	}
	if err := queryJSON(ctx, a.backend, decomposeSystemPrompt, prompt, &resp); err != nil {
		return nil, fmt.Errorf("task decomposition failed: %w", err)
	}
	if len(resp.Tasks) == 0 {
		return nil, fmt.Errorf("task decomposition produced no tasks")
	}
	return resp.Tasks, nil
}
