// Package session hosts one pipeline run in a background worker and
// exposes a poll-friendly view of it: the latest state snapshot,
// append-only activity/chat/LLM logs with cursors, and a blocking
// question-and-answer handshake between the worker and the operator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/braindock/braindock/internal/agents"
	"github.com/braindock/braindock/internal/checkpoint"
	"github.com/braindock/braindock/internal/config"
	"github.com/braindock/braindock/internal/events"
	"github.com/braindock/braindock/internal/pipeline"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("a run is already in progress")

// ActivityEntry is one line in the activity feed.
type ActivityEntry struct {
	TS      float64 `json:"ts"`
	Kind    string  `json:"kind"`
	TaskID  string  `json:"task_id,omitempty"`
	Message string  `json:"message"`
}

// ChatEntry is one message in the operator conversation.
type ChatEntry struct {
	TS        float64           `json:"ts"`
	Role      string            `json:"role"` // "user", "assistant", "system"
	Content   string            `json:"content"`
	Questions []agents.Question `json:"questions,omitempty"`
	Answers   map[string]string `json:"answers,omitempty"`
}

// Status is the poll snapshot the dashboard renders from.
type Status struct {
	State                *pipeline.State
	Running              bool
	Error                string
	PendingQuestions     []agents.Question
	PendingDecisions     []agents.Decision
	PendingUnderstanding string
}

// Options wires a session. Config, Agents and Store are required.
type Options struct {
	Config *config.RunConfig
	Agents agents.StageAgents
	Store  *checkpoint.Store
	Skills pipeline.SkillStore
	Bus    *events.Bus
	Tokens pipeline.TokenMeter

	// NewExecutor builds a step executor rooted at the run's project
	// directory. Nil means plan-only runs.
	NewExecutor func(projectDir string) (pipeline.StepExecutor, error)
}

type pendingAsk struct {
	questions     []agents.Question
	decisions     []agents.Decision
	understanding string
	answerCh      chan map[string]string
}

// Session owns at most one worker goroutine at a time. All exported
// methods are safe for concurrent use; the worker communicates with
// callers only through the mutex-guarded fields and the answer channel.
type Session struct {
	opts Options

	mu         sync.Mutex
	running    bool
	slug       string
	state      *pipeline.State
	runErr     error
	pending    *pendingAsk
	activities []ActivityEntry
	chat       []ChatEntry
	llmCalls   []agents.CallLog
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an idle session.
func New(opts Options) *Session {
	return &Session{opts: opts}
}

// Start launches a new run in a worker goroutine. Returns ErrBusy when
// a run is already in progress.
func (s *Session) Start(ctx context.Context, title, problem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx, title, problem)
}

// startLocked claims the run slot and launches the worker. The caller
// must hold s.mu.
func (s *Session) startLocked(ctx context.Context, title, problem string) error {
	if s.running {
		return ErrBusy
	}
	s.running = true
	s.slug = checkpoint.Slugify(title)
	s.runErr = nil
	s.pending = nil
	s.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx, title, problem)
	return nil
}

// Resume restarts a checkpointed run: the persisted logs are reloaded
// so the dashboard keeps its history, then the worker picks up from
// the snapshot.
func (s *Session) Resume(ctx context.Context, slug string) error {
	var state pipeline.State
	if err := s.opts.Store.LoadState(slug, &state); err != nil {
		return fmt.Errorf("failed to load run %q: %w", slug, err)
	}
	if state.Title == "" {
		return fmt.Errorf("run %q has no usable snapshot", slug)
	}

	var activities []ActivityEntry
	var chat []ChatEntry
	var llmCalls []agents.CallLog
	if err := s.opts.Store.LoadLog(slug, checkpoint.ActivitiesFile, &activities); err != nil {
		return err
	}
	if err := s.opts.Store.LoadLog(slug, checkpoint.ChatFile, &chat); err != nil {
		return err
	}
	if err := s.opts.Store.LoadLog(slug, checkpoint.LlmLogsFile, &llmCalls); err != nil {
		return err
	}

	// The busy check, the log installation and the worker launch share
	// one critical section: a run claiming the slot in between would
	// otherwise have its live logs replaced by the reloaded ones.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.activities = activities
	s.chat = chat
	s.llmCalls = llmCalls
	return s.startLocked(ctx, state.Title, state.Problem)
}

// run is the worker goroutine body.
func (s *Session) run(ctx context.Context, title, problem string) {
	var exec pipeline.StepExecutor
	if s.opts.NewExecutor != nil {
		projectDir := filepath.Join(s.opts.Store.Root(), checkpoint.Slugify(title), "project")
		e, err := s.opts.NewExecutor(projectDir)
		if err != nil {
			s.finishRun(nil, fmt.Errorf("failed to set up executor: %w", err))
			return
		}
		exec = e
	}

	coord := pipeline.NewCoordinator(pipeline.Options{
		Config:   s.opts.Config,
		Agents:   s.opts.Agents,
		Executor: exec,
		Store:    s.opts.Store,
		Skills:   s.opts.Skills,
		Ask:      func(q []agents.Question, d []agents.Decision, u string) (map[string]string, error) { return s.ask(ctx, q, d, u) },
		Bus:      s.opts.Bus,
		Tokens:   s.opts.Tokens,
		OnState:  s.onState,
		Notify:   s.addActivity,
	})

	state, err := coord.Run(ctx, title, problem)
	s.finishRun(state, err)
}

func (s *Session) finishRun(state *pipeline.State, err error) {
	s.mu.Lock()
	if state != nil {
		s.state = state.Clone()
	}
	s.runErr = err
	s.running = false
	s.pending = nil
	done := s.done
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.addActivity("error", "", "run finished with error: "+err.Error())
	} else {
		s.addActivity("info", "", "run finished")
	}
	close(done)
}

// ask publishes the pending questions and blocks the worker until the
// operator answers or the run is cancelled.
func (s *Session) ask(ctx context.Context, questions []agents.Question, decisions []agents.Decision, understanding string) (map[string]string, error) {
	p := &pendingAsk{
		questions:     questions,
		decisions:     decisions,
		understanding: understanding,
		answerCh:      make(chan map[string]string, 1),
	}

	s.mu.Lock()
	s.pending = p
	s.appendChatLocked(ChatEntry{
		TS:        nowUnix(),
		Role:      "assistant",
		Content:   understanding,
		Questions: questions,
	})
	s.mu.Unlock()

	select {
	case answers := <-p.answerCh:
		s.mu.Lock()
		s.appendChatLocked(ChatEntry{TS: nowUnix(), Role: "user", Content: "answers submitted", Answers: answers})
		s.mu.Unlock()
		return answers, nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.pending == p {
			s.pending = nil
		}
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SubmitAnswers resolves the pending question set. Returns false when
// nothing is pending; a second submission for the same questions also
// returns false.
func (s *Session) SubmitAnswers(answers map[string]string) bool {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil {
		return false
	}
	p.answerCh <- answers
	return true
}

// SendMessage appends an operator message to the chat log.
func (s *Session) SendMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendChatLocked(ChatEntry{TS: nowUnix(), Role: "user", Content: text})
}

// RecordLLMCall appends one backend call to the LLM log. Wire it as the
// logging backend's sink.
func (s *Session) RecordLLMCall(call agents.CallLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCalls = append(s.llmCalls, call)
	s.persistLocked(checkpoint.LlmLogsFile, s.llmCalls)
}

// Status returns the current poll snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running}
	if s.state != nil {
		st.State = s.state
	}
	if s.runErr != nil {
		st.Error = s.runErr.Error()
	}
	if s.pending != nil {
		st.PendingQuestions = s.pending.questions
		st.PendingDecisions = s.pending.decisions
		st.PendingUnderstanding = s.pending.understanding
	}
	return st
}

// Activities returns entries after the cursor plus the new cursor.
func (s *Session) Activities(since int) ([]ActivityEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	since = clampCursor(since, len(s.activities))
	return append([]ActivityEntry(nil), s.activities[since:]...), len(s.activities)
}

// ChatLog returns chat entries after the cursor plus the new cursor.
func (s *Session) ChatLog(since int) ([]ChatEntry, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	since = clampCursor(since, len(s.chat))
	return append([]ChatEntry(nil), s.chat[since:]...), len(s.chat)
}

// LlmCalls returns LLM log entries after the cursor plus the new cursor.
func (s *Session) LlmCalls(since int) ([]agents.CallLog, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	since = clampCursor(since, len(s.llmCalls))
	return append([]agents.CallLog(nil), s.llmCalls[since:]...), len(s.llmCalls)
}

// Runs lists resumable checkpoints.
func (s *Session) Runs() ([]checkpoint.RunInfo, error) {
	return s.opts.Store.ListRuns()
}

// Stop cancels the running worker, if any.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the current run finishes; nil when
// no run was ever started.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the last run's terminal error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// onState receives state clones from the coordinator. The coordinator
// saved the snapshot to disk before calling, so readers of Status never
// see a state newer than the checkpoint.
func (s *Session) onState(state *pipeline.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// addActivity is the coordinator's notify callback.
func (s *Session) addActivity(kind, taskID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, ActivityEntry{
		TS:      nowUnix(),
		Kind:    kind,
		TaskID:  taskID,
		Message: message,
	})
	s.persistLocked(checkpoint.ActivitiesFile, s.activities)
}

func (s *Session) appendChatLocked(entry ChatEntry) {
	s.chat = append(s.chat, entry)
	s.persistLocked(checkpoint.ChatFile, s.chat)
}

// persistLocked writes a dashboard log best-effort; a failed write must
// not break the run.
func (s *Session) persistLocked(file string, entries interface{}) {
	if s.slug == "" {
		return
	}
	if err := s.opts.Store.SaveLog(s.slug, file, entries); err != nil {
		log.Printf("failed to persist %s: %v", file, err)
	}
}

func clampCursor(since, length int) int {
	if since < 0 {
		return 0
	}
	if since > length {
		return length
	}
	return since
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
