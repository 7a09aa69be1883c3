package gate

import "fmt"

// Controller is the deterministic quality-gate state machine. All four
// checks are pure threshold comparisons over the supplied metrics and
// the controller's counters; none of them makes an external call.
//
// Every check appends its Result to the gate history and, when the
// check fails, increments FailureCount. FailureCount is therefore a
// cumulative run-wide counter shared by the plan and execution gates —
// a few early gate failures consume budget for every later task. That
// coupling is intentional behavior carried over from the original
// pipeline; do not scope it per task without a product decision.
type Controller struct {
	thresholds Thresholds
	state      *State
}

// NewController creates a controller with fresh counters.
func NewController(t Thresholds) *Controller {
	return &Controller{thresholds: t, state: &State{}}
}

// NewControllerWithState creates a controller over existing counters,
// for example when restoring a run.
func NewControllerWithState(t Thresholds, s *State) *Controller {
	if s == nil {
		s = &State{}
	}
	return &Controller{thresholds: t, state: s}
}

// State exposes the controller's counters for inspection and persistence.
func (c *Controller) State() *State {
	return c.state
}

// Thresholds returns the controller's immutable configuration.
func (c *Controller) Thresholds() Thresholds {
	return c.thresholds
}

// CheckPlanGate decides whether a plan may proceed to execution.
// The entropy check is evaluated first and short-circuits: a plan that
// exceeds MaxEntropy resolves to debate regardless of confidence, so
// both thresholds failing at once never resolves to reflect.
func (c *Controller) CheckPlanGate(confidence, entropy float64) Result {
	metrics := map[string]float64{"confidence": confidence, "entropy": entropy}

	var result Result
	switch {
	case entropy > c.thresholds.MaxEntropy:
		result = Result{
			GateName: "plan_quality",
			Passed:   false,
			Action:   ActionDebate,
			Reason:   fmt.Sprintf("entropy %.2f exceeds threshold %.2f", entropy, c.thresholds.MaxEntropy),
			Metrics:  metrics,
		}
	case confidence < c.thresholds.MinConfidence:
		result = Result{
			GateName: "plan_quality",
			Passed:   false,
			Action:   ActionReflect,
			Reason:   fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, c.thresholds.MinConfidence),
			Metrics:  metrics,
		}
	default:
		result = Result{
			GateName: "plan_quality",
			Passed:   true,
			Action:   ActionProceed,
			Reason:   "plan meets quality thresholds",
			Metrics:  metrics,
		}
	}

	c.record(result)
	return result
}

// CheckExecutionGate decides what happens after an execution attempt.
// Success always proceeds regardless of counters. A failure counts
// against the run-wide failure budget: when this failure would reach
// MaxFailures the gate aborts, otherwise it asks for reflection.
func (c *Controller) CheckExecutionGate(success bool) Result {
	metrics := map[string]float64{"failure_count": float64(c.state.FailureCount)}
	if success {
		metrics["success"] = 1
	} else {
		metrics["success"] = 0
	}

	var result Result
	switch {
	case success:
		result = Result{
			GateName: "execution_quality",
			Passed:   true,
			Action:   ActionProceed,
			Reason:   "execution succeeded",
			Metrics:  metrics,
		}
	case c.state.FailureCount+1 >= c.thresholds.MaxFailures:
		result = Result{
			GateName: "execution_quality",
			Passed:   false,
			Action:   ActionAbort,
			Reason:   fmt.Sprintf("failure count %d reached maximum %d", c.state.FailureCount+1, c.thresholds.MaxFailures),
			Metrics:  metrics,
		}
	default:
		result = Result{
			GateName: "execution_quality",
			Passed:   false,
			Action:   ActionReflect,
			Reason:   fmt.Sprintf("execution failed (attempt %d/%d)", c.state.FailureCount+1, c.thresholds.MaxFailures),
			Metrics:  metrics,
		}
	}

	c.record(result)
	return result
}

// CheckReflectionGate reports whether another reflection iteration is
// allowed. The reflection counter is advanced by RecordReflection, not
// by the check itself.
func (c *Controller) CheckReflectionGate() Result {
	var result Result
	if c.state.ReflectionCount < c.thresholds.MaxReflectionIterations {
		result = Result{
			GateName: "reflection_limit",
			Passed:   true,
			Action:   ActionProceed,
			Reason:   fmt.Sprintf("reflection %d/%d allowed", c.state.ReflectionCount+1, c.thresholds.MaxReflectionIterations),
		}
	} else {
		result = Result{
			GateName: "reflection_limit",
			Passed:   false,
			Action:   ActionAbort,
			Reason:   fmt.Sprintf("maximum reflection iterations (%d) reached", c.thresholds.MaxReflectionIterations),
		}
	}

	c.record(result)
	return result
}

// CheckDebateGate reports whether another debate round is allowed.
// The debate counter is advanced by RecordDebate when a round actually
// runs, not by the check itself.
func (c *Controller) CheckDebateGate() Result {
	var result Result
	if c.state.DebateCount < c.thresholds.MaxDebateRounds {
		result = Result{
			GateName: "debate_limit",
			Passed:   true,
			Action:   ActionProceed,
			Reason:   fmt.Sprintf("debate round %d/%d allowed", c.state.DebateCount+1, c.thresholds.MaxDebateRounds),
		}
	} else {
		result = Result{
			GateName: "debate_limit",
			Passed:   false,
			Action:   ActionAbort,
			Reason:   fmt.Sprintf("maximum debate rounds (%d) reached", c.thresholds.MaxDebateRounds),
		}
	}

	c.record(result)
	return result
}

// RecordReflection advances the reflection counter.
func (c *Controller) RecordReflection() {
	c.state.ReflectionCount++
}

// RecordDebate advances the debate counter.
func (c *Controller) RecordDebate() {
	c.state.DebateCount++
}

func (c *Controller) record(r Result) {
	c.state.GateHistory = append(c.state.GateHistory, r)
	if !r.Passed {
		c.state.FailureCount++
	}
}
