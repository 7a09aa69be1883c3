package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/braindock/braindock/internal/agents"
)

const (
	maxStdoutChars = 2000
	maxStderrChars = 500
)

// StopCondition bounds a single plan execution.
type StopCondition struct {
	MaxSteps    int           // hard cap on executed steps
	MaxFailures int           // consecutive step failures before giving up
	Timeout     time.Duration // wall-clock budget for the whole plan, 0 means none
}

// DefaultStopCondition returns the standard execution bounds.
func DefaultStopCondition() StopCondition {
	return StopCondition{MaxSteps: 50, MaxFailures: 3}
}

// stepAction is the concrete action the executor agent resolves a plan
// step into.
type stepAction struct {
	Tool    string `json:"tool"` // write_file | create_dir | run_command | test
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Command string `json:"command,omitempty"`
}

const executeSystemPrompt = `You are an execution agent. You turn one plan step into a
single concrete action. Respond with JSON only:
{"tool": "write_file|create_dir|run_command|test", "path": "...", "content": "...", "command": "..."}
write_file and create_dir need path (relative to the project root);
write_file also needs content. run_command and test need command.`

// Executor carries out action plans against a project directory. Every
// file path is confined to the work directory and every command runs in
// its own process group with a per-step timeout.
type Executor struct {
	backend     agents.Backend
	workDir     string
	stepTimeout time.Duration
	procMgr     *agents.ProcessManager
}

// New creates an executor rooted at workDir.
func New(backend agents.Backend, workDir string, stepTimeout time.Duration, pm *agents.ProcessManager) *Executor {
	return &Executor{
		backend:     backend,
		workDir:     workDir,
		stepTimeout: stepTimeout,
		procMgr:     pm,
	}
}

// WorkDir returns the directory this executor writes into.
func (e *Executor) WorkDir() string { return e.workDir }

// ExecutePlan runs the plan's steps in order until they are exhausted
// or a stop condition fires. A step failure does not stop execution by
// itself; only the consecutive-failure budget does. The returned error
// is non-nil only for context cancellation; ordinary step failures are
// reported in the result.
func (e *Executor) ExecutePlan(ctx context.Context, plan *agents.Plan, stop StopCondition) (*agents.ExecutionResult, error) {
	if stop.MaxSteps <= 0 {
		stop.MaxSteps = DefaultStopCondition().MaxSteps
	}
	if stop.MaxFailures <= 0 {
		stop.MaxFailures = DefaultStopCondition().MaxFailures
	}
	if stop.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stop.Timeout)
		defer cancel()
	}

	result := &agents.ExecutionResult{
		TaskID:     plan.TaskID,
		StepsTotal: len(plan.Steps),
	}
	consecutiveFailures := 0

	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			result.StopReason = "cancelled"
			if ctx.Err() == context.DeadlineExceeded {
				result.StopReason = "timeout"
			}
			return result, ctx.Err()
		}
		if i >= stop.MaxSteps {
			result.StopReason = "max_steps"
			break
		}

		outcome := e.executeStep(ctx, plan, step, result.Outcomes)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Success {
			result.StepsCompleted++
			consecutiveFailures = 0
			if outcome.AffectedFile != "" {
				result.GeneratedFiles = append(result.GeneratedFiles, outcome.AffectedFile)
			}
		} else {
			result.FailureCount++
			consecutiveFailures++
			log.Printf("step %s failed: %s", step.ID, outcome.Error)
			if consecutiveFailures >= stop.MaxFailures {
				result.StopReason = "max_failures"
				break
			}
		}
	}

	result.Success = result.StopReason == "" && result.FailureCount == 0
	return result, nil
}

// executeStep resolves one plan step into a concrete action and
// performs it.
func (e *Executor) executeStep(ctx context.Context, plan *agents.Plan, step agents.ActionStep, prior []agents.StepOutcome) agents.StepOutcome {
	outcome := agents.StepOutcome{StepID: step.ID}

	action, err := e.resolveAction(ctx, plan, step, prior)
	if err != nil {
		outcome.Error = fmt.Sprintf("failed to resolve step action: %v", err)
		return outcome
	}

	switch action.Tool {
	case "write_file":
		abs, err := writeFileInside(e.workDir, action.Path, action.Content)
		if err != nil {
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Success = true
		outcome.AffectedFile = abs
		outcome.Output = fmt.Sprintf("wrote %d bytes to %s", len(action.Content), action.Path)

	case "create_dir":
		if _, err := mkdirInside(e.workDir, action.Path); err != nil {
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Success = true
		outcome.Output = "created " + action.Path

	case "run_command", "test":
		stdout, stderr, err := e.runCommand(ctx, action.Command)
		outcome.Output = truncateTail(stdout, maxStdoutChars)
		if err != nil {
			outcome.Error = fmt.Sprintf("%v\n%s", err, truncateTail(stderr, maxStderrChars))
			return outcome
		}
		outcome.Success = true

	default:
		outcome.Error = fmt.Sprintf("unknown tool %q", action.Tool)
	}

	return outcome
}

// resolveAction asks the backend for the concrete action, granting one
// corrective retry when the response does not parse.
func (e *Executor) resolveAction(ctx context.Context, plan *agents.Plan, step agents.ActionStep, prior []agents.StepOutcome) (*stepAction, error) {
	prompt := e.buildStepPrompt(plan, step, prior)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := e.backend.Query(ctx, executeSystemPrompt, prompt)
		if err != nil {
			return nil, err
		}

		raw, err := agents.ExtractJSON(resp)
		if err == nil {
			var action stepAction
			if err := json.Unmarshal(raw, &action); err == nil && action.Tool != "" {
				return &action, nil
			}
			lastErr = fmt.Errorf("action JSON missing tool or malformed")
		} else {
			lastErr = err
		}
		prompt += "\n\nYour previous response was not a valid action JSON. Respond with ONLY the JSON object."
	}
	return nil, lastErr
}

func (e *Executor) buildStepPrompt(plan *agents.Plan, step agents.ActionStep, prior []agents.StepOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nStep %s: %s\n%s\n", plan.TaskTitle, step.ID, step.Action, step.Description)
	if step.Tool != "" {
		fmt.Fprintf(&b, "Suggested tool: %s\n", step.Tool)
	}
	if step.ExpectedOutput != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", step.ExpectedOutput)
	}
	if plan.Context != "" {
		fmt.Fprintf(&b, "\nGuidance: %s\n", plan.Context)
	}
	if len(prior) > 0 {
		b.WriteString("\nEarlier steps this task:\n")
		for _, o := range prior {
			status := "ok"
			if !o.Success {
				status = "FAILED: " + firstLineOf(o.Error)
			}
			fmt.Fprintf(&b, "- %s: %s\n", o.StepID, status)
		}
	}
	return b.String()
}

// runCommand runs a shell command in the work directory with the
// per-step timeout and process-group isolation.
func (e *Executor) runCommand(ctx context.Context, command string) (string, string, error) {
	if strings.TrimSpace(command) == "" {
		return "", "", fmt.Errorf("empty command")
	}
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	stdout, stderr, err := runShell(ctx, e.workDir, command, e.procMgr)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return stdout, stderr, fmt.Errorf("command timed out after %s", e.stepTimeout)
	}
	return stdout, stderr, err
}

// truncateTail keeps the last max characters; command failures tend to
// put the useful part at the end.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "... [truncated]\n" + s[len(s)-max:]
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
