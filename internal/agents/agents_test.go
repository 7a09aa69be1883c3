package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/braindock/braindock/internal/taskgraph"
)

// scriptedBackend returns canned responses in order.
func scriptedBackend(t *testing.T, responses ...string) Backend {
	t.Helper()
	i := 0
	return QueryFunc(func(ctx context.Context, system, user string) (string, error) {
		if i >= len(responses) {
			t.Fatalf("unexpected extra backend call: %q", user)
		}
		resp := responses[i]
		i++
		return resp, nil
	})
}

func TestSpecifyWithClarification(t *testing.T) {
	intake := `{
		"understanding": "A todo app",
		"questions": [{"id": "q1", "question": "Web or CLI?", "why": "changes the stack", "options": ["web", "cli"]}],
		"decisions": [{"id": "d1", "topic": "storage", "decision": "sqlite"}]
	}`
	spec := `{"title": "Todo", "overview": "A web todo app", "requirements": ["CRUD"], "constraints": [], "assumptions": [], "open_questions": []}`

	var askedQuestions []Question
	var secondPrompt string
	backend := QueryFunc(func(ctx context.Context, system, user string) (string, error) {
		if strings.Contains(user, "understanding") {
			return intake, nil
		}
		secondPrompt = user
		return spec, nil
	})

	ask := func(questions []Question, decisions []Decision, understanding string) (map[string]string, error) {
		askedQuestions = questions
		if understanding != "A todo app" {
			t.Errorf("understanding = %q", understanding)
		}
		return map[string]string{"q1": "web"}, nil
	}

	a := NewLLMAgents(backend)
	got, err := a.Specify(context.Background(), "Todo", "build me a todo thing", ask)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Todo" {
		t.Errorf("title = %q", got.Title)
	}
	if len(askedQuestions) != 1 || askedQuestions[0].ID != "q1" {
		t.Fatalf("ask received %+v", askedQuestions)
	}
	if !strings.Contains(secondPrompt, "A: web") {
		t.Error("operator answer should be embedded in the specification prompt")
	}
}

func TestSpecifySkipsAskWhenNoQuestions(t *testing.T) {
	backend := scriptedBackend(t,
		`{"understanding": "clear", "questions": [], "decisions": []}`,
		`{"title": "X", "overview": "ok", "requirements": [], "constraints": [], "assumptions": [], "open_questions": []}`,
	)

	a := NewLLMAgents(backend)
	ask := func([]Question, []Decision, string) (map[string]string, error) {
		t.Fatal("ask must not be called when there are no questions")
		return nil, nil
	}
	if _, err := a.Specify(context.Background(), "X", "problem", ask); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecompose(t *testing.T) {
	backend := scriptedBackend(t, `{
		"tasks": [
			{"id": "t1", "title": "Scaffold", "description": "set up", "depends_on": [], "estimated_effort": "small", "tags": []},
			{"id": "t2", "title": "API", "description": "build api", "depends_on": ["t1"], "estimated_effort": "medium", "tags": ["market"]}
		]
	}`)

	a := NewLLMAgents(backend)
	nodes, err := a.Decompose(context.Background(), &Spec{Title: "X", Overview: "app"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d tasks, want 2", len(nodes))
	}
	if nodes[1].DependsOn[0] != "t1" || !nodes[1].HasTag("market") {
		t.Errorf("task t2 parsed wrong: %+v", nodes[1])
	}
}

func TestDecomposeRejectsEmpty(t *testing.T) {
	backend := scriptedBackend(t, `{"tasks": []}`)
	a := NewLLMAgents(backend)
	if _, err := a.Decompose(context.Background(), &Spec{}); err == nil {
		t.Fatal("expected error for empty decomposition")
	}
}

func TestPlanFillsDefaults(t *testing.T) {
	backend := scriptedBackend(t, `{
		"steps": [{"id": "s1", "action": "write code", "description": "do it", "tool": "write_file"}],
		"metrics": {"confidence": 0.8, "entropy": 0.2}
	}`)

	a := NewLLMAgents(backend)
	task := &taskgraph.Node{ID: "t1", Title: "Build it"}
	plan, err := a.Plan(context.Background(), task, &Spec{}, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.TaskID != "t1" || plan.TaskTitle != "Build it" {
		t.Errorf("defaults not filled: %+v", plan)
	}
}

func TestPlanRejectsEmptySteps(t *testing.T) {
	backend := scriptedBackend(t, `{"steps": [], "metrics": {"confidence": 0.9, "entropy": 0.1}}`)
	a := NewLLMAgents(backend)
	if _, err := a.Plan(context.Background(), &taskgraph.Node{ID: "t1"}, &Spec{}, nil, ""); err == nil {
		t.Fatal("expected error for plan with no steps")
	}
}

func TestReflectDowngradesRetryWithoutPlan(t *testing.T) {
	backend := scriptedBackend(t, `{
		"root_causes": [{"description": "bad approach", "category": "wrong_approach", "confidence": 0.9}],
		"summary": "it broke",
		"should_retry": true,
		"modified_plan": null,
		"needs_human": false
	}`)

	a := NewLLMAgents(backend)
	task := &taskgraph.Node{ID: "t1"}
	result, err := a.Reflect(context.Background(), task, &Plan{TaskID: "t1"}, &ExecutionResult{TaskID: "t1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ShouldRetry {
		t.Error("should_retry without a modified plan must be downgraded")
	}
}

func TestExtractSkillNothingWorthKeeping(t *testing.T) {
	backend := scriptedBackend(t, `{"worth_keeping": false, "skill": null}`)
	a := NewLLMAgents(backend)
	skill, err := a.ExtractSkill(context.Background(), &taskgraph.Node{ID: "t1"}, &Plan{}, &ExecutionResult{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skill != nil {
		t.Errorf("expected nil skill, got %+v", skill)
	}
}

func TestExtractSkillSetsSource(t *testing.T) {
	backend := scriptedBackend(t, `{
		"worth_keeping": true,
		"skill": {"name": "Retry with backoff", "description": "wrap flaky calls", "tags": ["resilience"]}
	}`)
	a := NewLLMAgents(backend)
	skill, err := a.ExtractSkill(context.Background(), &taskgraph.Node{ID: "t7"}, &Plan{}, &ExecutionResult{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skill.SourceTask != "t7" {
		t.Errorf("source task = %q", skill.SourceTask)
	}
	if skill.ID != "retry-with-backoff" {
		t.Errorf("generated id = %q", skill.ID)
	}
}
