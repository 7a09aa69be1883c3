package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/braindock/braindock/internal/taskgraph"
)

const reflectSystemPrompt = `You are a failure analyst. You examine a failed task
execution, identify root causes, and decide whether a modified plan is
worth retrying. Set needs_human only for failures no retry can fix:
missing credentials, external account setup, payment, or a physical
action outside the machine. For everything else propose a concretely
different plan or recommend giving up.`

// Reflect analyzes a failed execution and proposes a way forward.
func (a *LLMAgents) Reflect(ctx context.Context, task *taskgraph.Node, plan *Plan, exec *ExecutionResult, verify *VerifyResult) (*ReflectionResult, error) {
	a.setStage("reflector", "reflection")

	planJSON, _ := json.MarshalIndent(plan, "", "  ")
	execJSON, _ := json.MarshalIndent(exec, "", "  ")

	verifySection := ""
	if verify != nil {
		verifyJSON, _ := json.MarshalIndent(verify, "", "  ")
		verifySection = fmt.Sprintf("\nVerification result:\n%s\n", verifyJSON)
	}

	prompt := fmt.Sprintf(`Task %s: %s

The plan:
%s

The execution result:
%s
%s
Analyze the failure. Respond with JSON:
{
  "root_causes": [{"description": "...", "category": "missing_dependency|wrong_approach|env_issue|flaky|other", "confidence": 0.0}],
  "summary": "<one paragraph>",
  "should_retry": true,
  "modified_plan": { ... same shape as the original plan, or null ... },
  "needs_human": false,
  "escalation_reason": ""
}

should_retry requires a modified_plan that differs materially from the
failed one. Repeating the same plan is not a retry.`, task.ID, task.Title, planJSON, execJSON, verifySection)

	var result ReflectionResult
	if err := queryJSON(ctx, a.backend, reflectSystemPrompt, prompt, &result); err != nil {
		return nil, fmt.Errorf("reflection for task %s failed: %w", task.ID, err)
	}
	if result.ShouldRetry && result.ModifiedPlan == nil {
		result.ShouldRetry = false
	}
	if result.ModifiedPlan != nil && result.ModifiedPlan.TaskID == "" {
		result.ModifiedPlan.TaskID = task.ID
	}
	return &result, nil
}
