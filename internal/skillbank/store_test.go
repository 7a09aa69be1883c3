package skillbank

import (
	"context"
	"database/sql"
	"testing"

	"github.com/braindock/braindock/internal/agents"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSkill(id string, tags ...string) *agents.Skill {
	return &agents.Skill{
		ID:          id,
		Name:        "Skill " + id,
		Description: "does " + id,
		Tags:        tags,
		Pattern:     "pattern for " + id,
		SourceTask:  "t1",
	}
}

func TestAddAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, sampleSkill("retry-backoff", "resilience", "http")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	skill, err := store.Get(ctx, "retry-backoff")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if skill.Name != "Skill retry-backoff" || len(skill.Tags) != 2 {
		t.Errorf("skill = %+v", skill)
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestAddUpsertsKeepingUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, sampleSkill("s1", "a"))
	store.IncrementUsage(ctx, "s1")
	store.IncrementUsage(ctx, "s1")

	updated := sampleSkill("s1", "a", "b")
	updated.Description = "refined"
	if err := store.Add(ctx, updated); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	skill, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if skill.Description != "refined" {
		t.Errorf("description not updated: %q", skill.Description)
	}
	if skill.UsageCount != 2 {
		t.Errorf("usage count lost on upsert: %d", skill.UsageCount)
	}
}

func TestListOrdersByUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, sampleSkill("rare"))
	store.Add(ctx, sampleSkill("popular"))
	for i := 0; i < 3; i++ {
		store.IncrementUsage(ctx, "popular")
	}

	skills, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 2 || skills[0].ID != "popular" {
		t.Errorf("order wrong: %v", skillIDs(skills))
	}
}

func TestFindByTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, sampleSkill("web-auth", "web", "auth"))
	store.Add(ctx, sampleSkill("db-migrate", "database"))
	store.Add(ctx, sampleSkill("web-forms", "web"))

	found, err := store.FindByTags(ctx, []string{"web"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("found %v, want 2 web skills", skillIDs(found))
	}

	found, err = store.FindByTags(ctx, []string{"auth", "database"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Errorf("found %v, want web-auth and db-migrate", skillIDs(found))
	}

	found, err = store.FindByTags(ctx, nil)
	if err != nil || found != nil {
		t.Errorf("empty query should match nothing: %v, %v", found, err)
	}
}

func TestRefs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Add(ctx, sampleSkill("s1"))
	refs, err := store.Refs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].ID != "s1" || refs[0].Name == "" {
		t.Errorf("refs = %+v", refs)
	}
}

func skillIDs(skills []*agents.Skill) []string {
	ids := make([]string, 0, len(skills))
	for _, s := range skills {
		ids = append(ids, s.ID)
	}
	return ids
}
