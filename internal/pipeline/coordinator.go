package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/braindock/braindock/internal/agents"
	"github.com/braindock/braindock/internal/checkpoint"
	"github.com/braindock/braindock/internal/config"
	"github.com/braindock/braindock/internal/events"
	"github.com/braindock/braindock/internal/gate"
	"github.com/braindock/braindock/internal/taskgraph"
)

// ErrAborted is returned when the operator chose to abort the run.
var ErrAborted = errors.New("run aborted by operator")

// StepExecutor carries out one plan against the project directory and
// verifies the result. The real implementation lives in
// internal/executor; tests use fakes.
type StepExecutor interface {
	ExecutePlan(ctx context.Context, plan *agents.Plan) (*agents.ExecutionResult, error)
	Verify(ctx context.Context) *agents.VerifyResult
}

// SkillStore is the subset of the skill bank the coordinator uses.
type SkillStore interface {
	Add(ctx context.Context, skill *agents.Skill) error
	Refs(ctx context.Context) ([]agents.SkillRef, error)
	IncrementUsage(ctx context.Context, id string) error
}

// TokenMeter reports cumulative LLM token usage; the logging backend
// implements it.
type TokenMeter interface {
	TokensUsed() int
}

// StateStore persists and reloads run snapshots. *checkpoint.Store is
// the production implementation.
type StateStore interface {
	SaveState(slug string, state interface{}) error
	LoadState(slug string, out interface{}) error
}

// Options wires a coordinator. Config, Agents and Store are required;
// everything else degrades gracefully when nil.
type Options struct {
	Config   *config.RunConfig
	Agents   agents.StageAgents
	Executor StepExecutor // nil behaves like SkipExecution
	Store    StateStore
	Skills   SkillStore     // nil disables skill learning
	Ask      agents.AskFunc // blocking operator handshake; nil auto-resolves escalations to skip
	Bus      *events.Bus    // optional event publication
	Tokens   TokenMeter     // optional, enables the token-budget escalation
	OnState  func(*State)   // receives a clone after every persisted transition
	Notify   func(kind, taskID, message string)
}

// Coordinator drives one run through the pipeline state machine:
// specify, decompose, then per task plan / gate / execute / verify /
// reflect, with snapshot persistence after every transition.
//
// A Coordinator is single-use and not safe for concurrent use; the
// session wraps it in a worker goroutine.
type Coordinator struct {
	opts  Options
	state *State
	graph *taskgraph.Graph
	gates *gate.Controller
	slug  string
}

// NewCoordinator creates a coordinator for one run.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Notify == nil {
		opts.Notify = func(string, string, string) {}
	}
	return &Coordinator{opts: opts}
}

// State returns the live snapshot. Callers outside the worker must use
// the OnState clones instead.
func (c *Coordinator) State() *State { return c.state }

// Run drives the pipeline from title/problem to a terminal mode. An
// existing snapshot with a usable specification is resumed: completed
// tasks are skipped and previously failed tasks are retried. The
// returned state is always persisted, error or not.
func (c *Coordinator) Run(ctx context.Context, title, problem string) (*State, error) {
	c.slug = checkpoint.Slugify(title)

	if err := c.initState(title, problem); err != nil {
		return c.state, err
	}

	if !c.state.HasSpecification() {
		if err := c.specifyAndDecompose(ctx, title, problem); err != nil {
			c.state.Error = err.Error()
			c.persist()
			c.finish()
			return c.state, err
		}
	} else {
		c.opts.Notify("resume", "", fmt.Sprintf("resuming %q: %d tasks completed, retrying %d failed",
			title, len(c.state.CompletedTasks), len(c.graph.ResetFailed())))
		for _, id := range append([]string(nil), c.state.FailedTasks...) {
			c.state.RemoveFailed(id)
		}
		c.persist()
	}

	runErr := c.processWaves(ctx)

	if runErr != nil {
		c.state.Error = runErr.Error()
	}
	c.finish()
	return c.state, runErr
}

// initState loads an existing snapshot or creates a fresh one, and
// restores the graph and gate counters when resuming.
func (c *Coordinator) initState(title, problem string) error {
	loaded := &State{}
	err := c.opts.Store.LoadState(c.slug, loaded)
	switch {
	case err == nil && loaded.HasSpecification():
		c.state = loaded
		c.state.Error = ""
		if c.state.Problem == "" {
			c.state.Problem = problem
		}
		c.graph = taskgraph.FromSnapshot(c.state.TaskGraph)
		c.gates = gate.NewControllerWithState(c.thresholds(), c.state.GateState)
		c.state.GateState = c.gates.State()
	case err == nil || isNotFound(err):
		c.state = NewState(title, problem)
		c.gates = gate.NewController(c.thresholds())
		c.state.GateState = c.gates.State()
	default:
		return fmt.Errorf("failed to load checkpoint for %q: %w", title, err)
	}
	return nil
}

func (c *Coordinator) thresholds() gate.Thresholds {
	t := gate.DefaultThresholds()
	cfg := c.opts.Config
	if cfg.MinConfidence > 0 {
		t.MinConfidence = cfg.MinConfidence
	}
	if cfg.MaxEntropy > 0 {
		t.MaxEntropy = cfg.MaxEntropy
	}
	if cfg.MaxFailures > 0 {
		t.MaxFailures = cfg.MaxFailures
	}
	if cfg.MaxReflectionIterations > 0 {
		t.MaxReflectionIterations = cfg.MaxReflectionIterations
	}
	if cfg.MaxDebateRounds > 0 {
		t.MaxDebateRounds = cfg.MaxDebateRounds
	}
	return t
}

// specifyAndDecompose runs the two fatal-on-failure stages. There is
// no per-task recovery before a task graph exists.
func (c *Coordinator) specifyAndDecompose(ctx context.Context, title, problem string) error {
	c.setMode(ModeSpecification, "")
	spec, err := c.opts.Agents.Specify(ctx, title, problem, c.opts.Ask)
	if err != nil {
		return fmt.Errorf("specification failed: %w", err)
	}
	c.state.Spec = spec
	c.persist()

	c.setMode(ModeTaskGraph, "")
	nodes, err := c.opts.Agents.Decompose(ctx, spec)
	if err != nil {
		return fmt.Errorf("task decomposition failed: %w", err)
	}

	c.graph = taskgraph.New(title, nodes)
	if _, err := c.graph.Validate(); err != nil {
		// Scheduling tolerates bad graphs via the final-wave fallback;
		// surface the problem but keep going.
		log.Printf("task graph validation: %v", err)
		c.opts.Notify("warning", "", "task graph has unresolvable dependencies: "+err.Error())
	}
	c.state.TaskGraph = c.graph.Snapshot()
	c.persist()
	return nil
}

// processWaves iterates the dependency waves, containing per-task
// errors so one broken task never kills the run.
func (c *Coordinator) processWaves(ctx context.Context) error {
	for wave, group := range c.graph.ParallelGroups() {
		for _, node := range group {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.state.IsCompleted(node.ID) {
				continue
			}

			err := c.runTask(ctx, node, wave)
			if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err != nil {
				// Unexpected task failure: record and move on.
				c.opts.Notify("error", node.ID, fmt.Sprintf("task %s failed unexpectedly: %v", node.ID, err))
				c.failTask(node, err.Error())
			}
		}
	}
	return nil
}

// runTask drives one task through planning, gating, execution and
// recovery. Returns nil when the task reached a terminal state
// (completed or failed); a non-nil error aborts the whole run.
func (c *Coordinator) runTask(ctx context.Context, node *taskgraph.Node, wave int) error {
	c.publish(events.TopicTask, events.TaskStartedEvent{ID: node.ID, Title: node.Title, Wave: wave, Timestamp: time.Now()})
	c.opts.Notify("task", node.ID, "starting task: "+node.Title)
	tokenStart := c.tokensUsed()

	plan, err := c.buildPlan(ctx, node)
	if err != nil {
		c.failTask(node, "planning failed: "+err.Error())
		return nil
	}

	// Plan quality gate; entropy disputes go to debate, low confidence
	// gets one re-plan per the reflection budget.
	c.setMode(ModeController, node.ID)
	planGate := c.gates.CheckPlanGate(plan.Metrics.Confidence, plan.Metrics.Entropy)
	c.recordGate(node.ID, planGate)

	switch planGate.Action {
	case gate.ActionDebate:
		plan = c.maybeDebate(ctx, node, plan, planGate.Reason)
	case gate.ActionReflect:
		plan = c.maybeReplan(ctx, node, plan, planGate.Reason)
	}

	if c.opts.Config.SkipExecution || c.opts.Executor == nil {
		c.opts.Notify("task", node.ID, "execution skipped by configuration")
		c.completeTask(ctx, node, plan, nil)
		return nil
	}

	execResult, verify, execGate, err := c.executeAndGate(ctx, node, plan)
	if err != nil {
		return err
	}
	if execGate.Action == gate.ActionProceed {
		c.completeTask(ctx, node, plan, execResult)
		return nil
	}

	return c.recoverTask(ctx, node, plan, execResult, verify, execGate, tokenStart)
}

// buildPlan runs the optional market study and the planning stage.
func (c *Coordinator) buildPlan(ctx context.Context, node *taskgraph.Node) (*agents.Plan, error) {
	marketContext := ""
	if node.HasTag("market") || node.HasTag("research") || node.HasTag("analysis") {
		c.setMode(ModeMarketStudy, node.ID)
		study, err := c.opts.Agents.AnalyzeMarket(ctx, node, c.state.Spec)
		if err != nil {
			// Market input is enrichment, not a requirement.
			c.opts.Notify("warning", node.ID, "market study failed: "+err.Error())
		} else {
			c.state.MarketStudies = append(c.state.MarketStudies, study)
			c.persist()
			marketContext = study.ContextString()
		}
	}

	c.setMode(ModePlanning, node.ID)
	skills := c.skillRefs(ctx)
	plan, err := c.opts.Agents.Plan(ctx, node, c.state.Spec, skills, marketContext)
	if err != nil {
		return nil, err
	}
	c.noteSkillUsage(ctx, plan)
	c.state.Plans = append(c.state.Plans, plan)
	c.persist()
	return plan, nil
}

// maybeDebate runs a debate round when the debate budget allows;
// otherwise the contested plan proceeds as-is.
func (c *Coordinator) maybeDebate(ctx context.Context, node *taskgraph.Node, plan *agents.Plan, reason string) *agents.Plan {
	debateGate := c.gates.CheckDebateGate()
	c.recordGate(node.ID, debateGate)
	if !debateGate.Passed {
		return plan
	}

	c.setMode(ModeDebate, node.ID)
	outcome, err := c.opts.Agents.Debate(ctx, node, plan, reason)
	if err != nil {
		c.opts.Notify("warning", node.ID, "debate failed: "+err.Error())
		return plan
	}
	c.gates.RecordDebate()
	c.state.Debates = append(c.state.Debates, outcome)
	c.persist()

	if outcome.ImprovedPlan != nil && len(outcome.ImprovedPlan.Steps) > 0 {
		c.state.Plans = append(c.state.Plans, outcome.ImprovedPlan)
		c.persist()
		return outcome.ImprovedPlan
	}
	return plan
}

// maybeReplan gives the planner one more attempt when the reflection
// budget allows, with the gate's reason as guidance.
func (c *Coordinator) maybeReplan(ctx context.Context, node *taskgraph.Node, plan *agents.Plan, reason string) *agents.Plan {
	reflectGate := c.gates.CheckReflectionGate()
	c.recordGate(node.ID, reflectGate)
	if !reflectGate.Passed {
		return plan
	}

	c.setMode(ModeReflection, node.ID)
	c.gates.RecordReflection()
	retry := *plan
	retry.Context = joinContext(plan.Context, "A previous plan was rejected: "+reason+". Produce a more certain plan.")

	improved, err := c.opts.Agents.Plan(ctx, node, c.state.Spec, c.skillRefs(ctx), retry.Context)
	if err != nil {
		c.opts.Notify("warning", node.ID, "re-planning failed: "+err.Error())
		return plan
	}
	c.state.Plans = append(c.state.Plans, improved)
	c.persist()
	return improved
}

// executeAndGate runs the plan, verifies the project, and evaluates
// the execution gate.
func (c *Coordinator) executeAndGate(ctx context.Context, node *taskgraph.Node, plan *agents.Plan) (*agents.ExecutionResult, *agents.VerifyResult, gate.Result, error) {
	c.setMode(ModeExecution, node.ID)
	execResult, err := c.opts.Executor.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, nil, gate.Result{}, err
	}
	c.state.ExecutionResults = append(c.state.ExecutionResults, execResult)
	c.persist()

	verify := c.opts.Executor.Verify(ctx)
	if verify != nil {
		c.state.VerificationResults = append(c.state.VerificationResults, verify)
		c.persist()
	}

	success := execResult.Success && (verify == nil || verify.Success)
	c.setMode(ModeController, node.ID)
	execGate := c.gates.CheckExecutionGate(success)
	c.recordGate(node.ID, execGate)
	return execResult, verify, execGate, nil
}

// recoverTask owns the reflect-retry loop and its three escalation
// points: reflection flags needsHuman, the task's token budget is
// exceeded, or recovery is exhausted.
func (c *Coordinator) recoverTask(ctx context.Context, node *taskgraph.Node, plan *agents.Plan,
	execResult *agents.ExecutionResult, verify *agents.VerifyResult, execGate gate.Result, tokenStart int) error {

	if execGate.Action == gate.ActionAbort {
		return c.finalizeFailure(ctx, node, plan, execGate.Reason)
	}

	for attempt := 0; attempt <= c.opts.Config.MaxTaskRetries; attempt++ {
		reflectGate := c.gates.CheckReflectionGate()
		c.recordGate(node.ID, reflectGate)
		if !reflectGate.Passed {
			return c.finalizeFailure(ctx, node, plan, reflectGate.Reason)
		}

		c.setMode(ModeReflection, node.ID)
		reflection, err := c.opts.Agents.Reflect(ctx, node, plan, execResult, verify)
		if err != nil {
			c.failTask(node, "reflection failed: "+err.Error())
			return nil
		}
		c.gates.RecordReflection()
		c.state.Reflections = append(c.state.Reflections, reflection)
		c.persist()

		hint := ""
		if reflection.NeedsHuman {
			action, h, err := c.escalate(ctx, node, escalationReason(reflection))
			if err != nil {
				return err
			}
			if action != EscalationRetry {
				c.failTask(node, "operator skipped task: "+escalationReason(reflection))
				return nil
			}
			hint = h
		} else if budget := c.opts.Config.EscalationTokenBudget; budget > 0 && c.tokensUsed()-tokenStart > budget {
			action, h, err := c.escalate(ctx, node,
				fmt.Sprintf("task exceeded its token budget (%d tokens)", budget))
			if err != nil {
				return err
			}
			if action != EscalationRetry {
				c.failTask(node, "operator skipped task after token budget exceeded")
				return nil
			}
			hint = h
		} else if !reflection.ShouldRetry {
			return c.finalizeFailure(ctx, node, plan, "reflection found no viable retry")
		}

		if reflection.ModifiedPlan != nil && len(reflection.ModifiedPlan.Steps) > 0 {
			plan = reflection.ModifiedPlan
		}
		if hint != "" {
			plan.Context = joinContext(plan.Context, "Operator guidance: "+hint)
		}
		c.state.Plans = append(c.state.Plans, plan)
		c.persist()

		var execGate gate.Result
		execResult, verify, execGate, err = c.executeAndGate(ctx, node, plan)
		if err != nil {
			return err
		}
		if execGate.Action == gate.ActionProceed {
			c.completeTask(ctx, node, plan, execResult)
			return nil
		}
		if execGate.Action == gate.ActionAbort {
			return c.finalizeFailure(ctx, node, plan, execGate.Reason)
		}
	}

	return c.finalizeFailure(ctx, node, plan, "retry attempts exhausted")
}

// finalizeFailure offers the operator a last decision before marking
// the task failed (escalation point 3). A retry answer grants one more
// execution with the current plan plus the operator's hint.
func (c *Coordinator) finalizeFailure(ctx context.Context, node *taskgraph.Node, plan *agents.Plan, reason string) error {
	action, hint, err := c.escalate(ctx, node, reason)
	if err != nil {
		return err
	}
	if action != EscalationRetry {
		c.failTask(node, reason)
		return nil
	}

	if hint != "" {
		plan.Context = joinContext(plan.Context, "Operator guidance: "+hint)
	}
	execResult, _, execGate, err := c.executeAndGate(ctx, node, plan)
	if err != nil {
		return err
	}
	if execGate.Action == gate.ActionProceed {
		c.completeTask(ctx, node, plan, execResult)
		return nil
	}
	c.failTask(node, reason+" (operator retry also failed)")
	return nil
}

// escalate blocks on the operator handshake. The escalation is
// persisted before asking, so a crash mid-escalation leaves a trail.
// Returns ErrAborted when the operator aborts the run.
func (c *Coordinator) escalate(ctx context.Context, node *taskgraph.Node, reason string) (EscalationAction, string, error) {
	esc := &Escalation{TS: nowUnix(), TaskID: node.ID, Reason: reason}
	c.state.Escalations = append(c.state.Escalations, esc)
	c.persist()
	c.publish(events.TopicPipeline, events.EscalationRaisedEvent{Task: node.ID, Reason: reason, Timestamp: time.Now()})
	c.opts.Notify("escalation", node.ID, reason)

	if !c.opts.Config.EnableHumanEscalation || c.opts.Ask == nil {
		esc.Action = EscalationSkip
		esc.Resolved = true
		c.persist()
		return EscalationSkip, "", nil
	}

	answers, err := c.opts.Ask(escalationQuestions(node.Title, reason), nil, "")
	if err != nil {
		c.opts.Notify("warning", node.ID, "escalation handshake failed, skipping task: "+err.Error())
		esc.Action = EscalationSkip
		esc.Resolved = true
		c.persist()
		return EscalationSkip, "", nil
	}

	action, hint := parseEscalationAnswers(answers)
	esc.Answers = answers
	esc.Action = action
	esc.Hint = hint
	esc.Resolved = true
	c.persist()

	if action == EscalationAbort {
		return action, hint, ErrAborted
	}
	if ctx.Err() != nil {
		return action, hint, ctx.Err()
	}
	return action, hint, nil
}

// completeTask runs skill learning and marks the task completed.
func (c *Coordinator) completeTask(ctx context.Context, node *taskgraph.Node, plan *agents.Plan, execResult *agents.ExecutionResult) {
	if !c.opts.Config.SkipSkillLearning && c.opts.Skills != nil && execResult != nil {
		c.setMode(ModeSkillLearning, node.ID)
		skill, err := c.opts.Agents.ExtractSkill(ctx, node, plan, execResult)
		if err != nil {
			c.opts.Notify("warning", node.ID, "skill extraction failed: "+err.Error())
		} else if skill != nil {
			if err := c.opts.Skills.Add(ctx, skill); err != nil {
				c.opts.Notify("warning", node.ID, "failed to save skill: "+err.Error())
			} else {
				c.state.LearnedSkills = append(c.state.LearnedSkills, skill)
			}
		}
	}

	output := ""
	if execResult != nil {
		output = fmt.Sprintf("%d/%d steps", execResult.StepsCompleted, execResult.StepsTotal)
	}
	c.graph.MarkCompleted(node.ID, output)
	c.state.CompletedTasks = append(c.state.CompletedTasks, node.ID)
	c.syncGraph()
	c.persist()
	c.publish(events.TopicTask, events.TaskCompletedEvent{ID: node.ID, Output: output, Timestamp: time.Now()})
	c.opts.Notify("task", node.ID, "task completed: "+node.Title)
}

func (c *Coordinator) failTask(node *taskgraph.Node, reason string) {
	c.graph.MarkFailed(node.ID, reason)
	found := false
	for _, id := range c.state.FailedTasks {
		if id == node.ID {
			found = true
			break
		}
	}
	if !found {
		c.state.FailedTasks = append(c.state.FailedTasks, node.ID)
	}
	c.syncGraph()
	c.persist()
	c.publish(events.TopicTask, events.TaskFailedEvent{ID: node.ID, Reason: reason, Timestamp: time.Now()})
	c.opts.Notify("task", node.ID, "task failed: "+reason)
}

// finish moves the run to its terminal mode and publishes the summary.
func (c *Coordinator) finish() {
	if c.state.Error == "" {
		c.state.CurrentMode = ModeDone
	}
	c.persist()
	c.publish(events.TopicPipeline, events.RunFinishedEvent{
		FinalMode: string(c.state.CurrentMode),
		Completed: len(c.state.CompletedTasks),
		Failed:    len(c.state.FailedTasks),
		Err:       c.state.Error,
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) setMode(mode Mode, taskID string) {
	from := c.state.CurrentMode
	c.state.CurrentMode = mode
	c.persist()
	c.publish(events.TopicPipeline, events.ModeChangedEvent{From: string(from), To: string(mode), Task: taskID, Timestamp: time.Now()})
}

func (c *Coordinator) recordGate(taskID string, result gate.Result) {
	c.persist()
	c.publish(events.TopicPipeline, events.GateEvaluatedEvent{
		Task: taskID, GateName: result.GateName, Passed: result.Passed,
		Action: string(result.Action), Reason: result.Reason, Timestamp: time.Now(),
	})
	c.opts.Notify("gate", taskID, result.GateName+": "+string(result.Action)+" ("+result.Reason+")")
}

// persist writes the snapshot to disk, then publishes a clone to the
// session. The disk write completes first so a crash can never expose
// a newer in-memory state than what is on disk; when the write fails
// the publish is skipped for the same reason.
func (c *Coordinator) persist() {
	if c.graph != nil {
		c.syncGraph()
	}
	if err := c.opts.Store.SaveState(c.slug, c.state); err != nil {
		log.Printf("checkpoint save failed: %v", err)
		return
	}
	if c.opts.OnState != nil {
		c.opts.OnState(c.state.Clone())
	}
}

func (c *Coordinator) syncGraph() {
	c.state.TaskGraph = c.graph.Snapshot()
}

func (c *Coordinator) publish(topic string, event events.Event) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(topic, event)
	}
}

func (c *Coordinator) tokensUsed() int {
	if c.opts.Tokens == nil {
		return 0
	}
	return c.opts.Tokens.TokensUsed()
}

func (c *Coordinator) skillRefs(ctx context.Context) []agents.SkillRef {
	if c.opts.Skills == nil {
		return nil
	}
	refs, err := c.opts.Skills.Refs(ctx)
	if err != nil {
		log.Printf("failed to load skill refs: %v", err)
		return nil
	}
	return refs
}

// noteSkillUsage bumps usage counters for skills the planner chose.
func (c *Coordinator) noteSkillUsage(ctx context.Context, plan *agents.Plan) {
	if c.opts.Skills == nil {
		return
	}
	for _, id := range plan.RelevantSkills {
		if err := c.opts.Skills.IncrementUsage(ctx, id); err != nil {
			log.Printf("failed to record skill usage for %s: %v", id, err)
		}
	}
}

func escalationReason(r *agents.ReflectionResult) string {
	if r.EscalationReason != "" {
		return r.EscalationReason
	}
	return "reflection determined this task needs human help"
}

func joinContext(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "\n" + addition
}

func isNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
