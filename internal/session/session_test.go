package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/braindock/braindock/internal/agents"
	"github.com/braindock/braindock/internal/checkpoint"
	"github.com/braindock/braindock/internal/config"
	"github.com/braindock/braindock/internal/taskgraph"
)

// stubAgents produces a one-task plan-only run. When askQuestions is
// set, Specify blocks on the operator handshake first.
type stubAgents struct {
	askQuestions []agents.Question
	gotAnswers   map[string]string
	block        chan struct{} // when set, Specify waits before returning
}

func (s *stubAgents) Specify(ctx context.Context, title, problem string, ask agents.AskFunc) (*agents.Spec, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(s.askQuestions) > 0 && ask != nil {
		answers, err := ask(s.askQuestions, nil, "I think I understand the project")
		if err != nil {
			return nil, err
		}
		s.gotAnswers = answers
	}
	return &agents.Spec{Title: title, Overview: "overview"}, nil
}

func (s *stubAgents) Decompose(ctx context.Context, spec *agents.Spec) ([]*taskgraph.Node, error) {
	return []*taskgraph.Node{{ID: "t1", Title: "only task"}}, nil
}

func (s *stubAgents) Plan(ctx context.Context, task *taskgraph.Node, spec *agents.Spec, skills []agents.SkillRef, marketContext string) (*agents.Plan, error) {
	return &agents.Plan{
		TaskID:  task.ID,
		Steps:   []agents.ActionStep{{ID: "s1", Action: "noop"}},
		Metrics: agents.PlanMetrics{Confidence: 0.9, Entropy: 0.1},
	}, nil
}

func (s *stubAgents) Reflect(ctx context.Context, task *taskgraph.Node, plan *agents.Plan, exec *agents.ExecutionResult, verify *agents.VerifyResult) (*agents.ReflectionResult, error) {
	return &agents.ReflectionResult{ShouldRetry: false}, nil
}

func (s *stubAgents) Debate(ctx context.Context, task *taskgraph.Node, plan *agents.Plan, reason string) (*agents.DebateOutcome, error) {
	return &agents.DebateOutcome{Converged: true}, nil
}

func (s *stubAgents) AnalyzeMarket(ctx context.Context, task *taskgraph.Node, spec *agents.Spec) (*agents.MarketStudy, error) {
	return &agents.MarketStudy{TaskID: task.ID}, nil
}

func (s *stubAgents) ExtractSkill(ctx context.Context, task *taskgraph.Node, plan *agents.Plan, exec *agents.ExecutionResult) (*agents.Skill, error) {
	return nil, nil
}

func newTestSession(t *testing.T, sa *stubAgents) *Session {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.SkipExecution = true
	return New(Options{Config: cfg, Agents: sa, Store: store})
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func TestSessionRunToCompletion(t *testing.T) {
	s := newTestSession(t, &stubAgents{})
	if err := s.Start(context.Background(), "demo", "a problem"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	st := s.Status()
	if st.Running {
		t.Error("session still reports running")
	}
	if st.Error != "" {
		t.Errorf("unexpected error: %s", st.Error)
	}
	if st.State == nil || len(st.State.CompletedTasks) != 1 {
		t.Errorf("state = %+v", st.State)
	}
}

func TestSessionStartWhileRunningIsBusy(t *testing.T) {
	sa := &stubAgents{block: make(chan struct{})}
	s := newTestSession(t, sa)
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(context.Background(), "other", "p"); !errors.Is(err, ErrBusy) {
		t.Errorf("second start err = %v, want ErrBusy", err)
	}

	close(sa.block)
	waitDone(t, s)

	// Idle again: a new start is accepted.
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Errorf("restart after completion: %v", err)
	}
	waitDone(t, s)
}

func TestSessionAskHandshake(t *testing.T) {
	sa := &stubAgents{
		askQuestions: []agents.Question{{ID: "q1", Question: "which database?"}},
	}
	s := newTestSession(t, sa)
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Fatal(err)
	}

	// Poll until the worker parks on the handshake.
	deadline := time.After(5 * time.Second)
	for {
		if st := s.Status(); len(st.PendingQuestions) > 0 {
			if st.PendingQuestions[0].ID != "q1" {
				t.Fatalf("pending = %+v", st.PendingQuestions)
			}
			if st.PendingUnderstanding == "" {
				t.Error("understanding not published")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("questions never became pending")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if ok := s.SubmitAnswers(map[string]string{"q1": "sqlite"}); !ok {
		t.Fatal("submit rejected")
	}
	// The slot is cleared; a second submission has nothing to resolve.
	if ok := s.SubmitAnswers(map[string]string{"q1": "again"}); ok {
		t.Error("second submit should be rejected")
	}

	waitDone(t, s)
	if sa.gotAnswers["q1"] != "sqlite" {
		t.Errorf("worker received %v", sa.gotAnswers)
	}

	// The handshake left a question/answer pair in the chat log.
	chat, _ := s.ChatLog(0)
	var sawQuestions, sawAnswers bool
	for _, entry := range chat {
		if len(entry.Questions) > 0 {
			sawQuestions = true
		}
		if len(entry.Answers) > 0 {
			sawAnswers = true
		}
	}
	if !sawQuestions || !sawAnswers {
		t.Errorf("chat log missing handshake: %+v", chat)
	}
}

func TestSessionSubmitWithNothingPending(t *testing.T) {
	s := newTestSession(t, &stubAgents{})
	if s.SubmitAnswers(map[string]string{"x": "y"}) {
		t.Error("submit with no pending questions should be rejected")
	}
}

func TestSessionCursors(t *testing.T) {
	s := newTestSession(t, &stubAgents{})
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	all, cursor := s.Activities(0)
	if len(all) == 0 || cursor != len(all) {
		t.Fatalf("activities = %d, cursor = %d", len(all), cursor)
	}

	// Reading from the cursor returns nothing new.
	tail, next := s.Activities(cursor)
	if len(tail) != 0 || next != cursor {
		t.Errorf("tail = %d entries, cursor %d -> %d", len(tail), cursor, next)
	}

	// Out-of-range cursors are clamped, not errors.
	if entries, _ := s.Activities(-5); len(entries) != len(all) {
		t.Error("negative cursor not clamped to start")
	}
	if entries, _ := s.Activities(cursor + 100); len(entries) != 0 {
		t.Error("oversized cursor not clamped to end")
	}
}

func TestSessionSendMessage(t *testing.T) {
	s := newTestSession(t, &stubAgents{})
	s.SendMessage("hello")
	chat, cursor := s.ChatLog(0)
	if cursor != 1 || chat[0].Role != "user" || chat[0].Content != "hello" {
		t.Errorf("chat = %+v", chat)
	}
}

func TestSessionRecordLLMCall(t *testing.T) {
	s := newTestSession(t, &stubAgents{})
	s.RecordLLMCall(agents.CallLog{Agent: "planner", Direction: "request", Content: "hi"})
	calls, cursor := s.LlmCalls(0)
	if cursor != 1 || calls[0].Agent != "planner" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestSessionResumeReloadsLogs(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.SkipExecution = true

	s := New(Options{Config: cfg, Agents: &stubAgents{}, Store: store})
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)
	_, firstCursor := s.Activities(0)
	if firstCursor == 0 {
		t.Fatal("first run produced no activities")
	}

	// A fresh session resuming the same run starts with the persisted
	// history instead of an empty feed.
	s2 := New(Options{Config: cfg, Agents: &stubAgents{}, Store: store})
	if err := s2.Resume(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s2)

	_, resumedCursor := s2.Activities(0)
	if resumedCursor <= firstCursor {
		t.Errorf("resumed cursor %d should extend the persisted %d entries", resumedCursor, firstCursor)
	}
}

func TestSessionResumeWhileRunningKeepsLiveLogs(t *testing.T) {
	store, err := checkpoint.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.SkipExecution = true

	// Persist a finished run to resume from.
	s := New(Options{Config: cfg, Agents: &stubAgents{}, Store: store})
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)

	// A second session with a live worker parked mid-run.
	sa := &stubAgents{block: make(chan struct{})}
	s2 := New(Options{Config: cfg, Agents: sa, Store: store})
	if err := s2.Start(context.Background(), "other", "p"); err != nil {
		t.Fatal(err)
	}
	s2.SendMessage("live message")
	_, cursorBefore := s2.ChatLog(0)

	// Every concurrent resume must lose to the live worker without
	// swapping in the persisted history it already loaded.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s2.Resume(context.Background(), "demo"); !errors.Is(err, ErrBusy) {
				t.Errorf("resume during live run: err = %v, want ErrBusy", err)
			}
		}()
	}
	wg.Wait()

	chat, cursorAfter := s2.ChatLog(0)
	if cursorAfter != cursorBefore {
		t.Errorf("chat cursor moved %d -> %d during rejected resumes", cursorBefore, cursorAfter)
	}
	if len(chat) == 0 || chat[len(chat)-1].Content != "live message" {
		t.Errorf("live chat log replaced: %+v", chat)
	}

	close(sa.block)
	waitDone(t, s2)
}

func TestSessionResumeUnknownRun(t *testing.T) {
	s := newTestSession(t, &stubAgents{})
	if err := s.Resume(context.Background(), "no-such-run"); err == nil {
		t.Error("resume of a missing run should fail")
	}
}

func TestSessionStopCancelsWorker(t *testing.T) {
	sa := &stubAgents{block: make(chan struct{})}
	s := newTestSession(t, sa)
	if err := s.Start(context.Background(), "demo", "p"); err != nil {
		t.Fatal(err)
	}

	s.Stop()
	waitDone(t, s)

	if err := s.Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
