package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Cool Project", "my-cool-project"},
		{"  spaced  out  ", "spaced-out"},
		{"already-slugged", "already-slugged"},
		{"Symbols & Stuff! v2.0", "symbols-stuff-v2-0"},
		{"", "untitled"},
		{"!!!", "untitled"},
		{"ÜniçödeTitle", "üniçödetitle"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveLoadState(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	type state struct {
		Title string `json:"title"`
		Mode  string `json:"current_mode"`
	}

	if err := store.SaveState("my-run", state{Title: "My Run", Mode: "planning"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var loaded state
	if err := store.LoadState("my-run", &loaded); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Title != "My Run" || loaded.Mode != "planning" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadStateMissing(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	var out map[string]string
	err := store.LoadState("nope", &out)
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestSaveStateIsAtomic(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if err := store.SaveState("run", map[string]int{"v": 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveState("run", map[string]int{"v": 2}); err != nil {
		t.Fatal(err)
	}

	// No temp file should be left behind.
	entries, _ := os.ReadDir(filepath.Join(store.Root(), "run"))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	var out map[string]int
	if err := store.LoadState("run", &out); err != nil || out["v"] != 2 {
		t.Errorf("out = %v, err = %v", out, err)
	}
}

func TestLoadLogToleratesGarbage(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	dir, _ := store.RunDir("run")

	tests := []struct {
		name    string
		content string
	}{
		{"missing file", ""},
		{"not json", "this is not json"},
		{"wrong shape", `{"an": "object"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.content != "" {
				if err := os.WriteFile(filepath.Join(dir, ChatFile), []byte(tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			var out []map[string]string
			if err := store.LoadLog("run", ChatFile, &out); err != nil {
				t.Errorf("tolerant load returned error: %v", err)
			}
			if len(out) != 0 {
				t.Errorf("expected empty log, got %v", out)
			}
		})
	}
}

func TestSaveLoadLogRoundTrip(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	entries := []map[string]string{{"role": "user", "content": "hi"}}
	if err := store.SaveLog("run", ChatFile, entries); err != nil {
		t.Fatal(err)
	}

	var out []map[string]string
	if err := store.LoadLog("run", ChatFile, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0]["content"] != "hi" {
		t.Errorf("out = %v", out)
	}
}

func TestListRuns(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	store.SaveState("beta", map[string]interface{}{
		"title":           "Beta",
		"current_mode":    "done",
		"completed_tasks": []string{"t1", "t2"},
		"failed_tasks":    []string{},
	})
	store.SaveState("alpha", map[string]interface{}{
		"title":           "Alpha",
		"current_mode":    "execution",
		"completed_tasks": []string{"t1"},
		"failed_tasks":    []string{"t2"},
	})

	// A stray directory without a checkpoint is skipped.
	os.MkdirAll(filepath.Join(store.Root(), "not-a-run"), 0o755)

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Slug != "alpha" || runs[1].Slug != "beta" {
		t.Errorf("order = %s, %s", runs[0].Slug, runs[1].Slug)
	}
	if runs[0].Completed != 1 || runs[0].Failed != 1 {
		t.Errorf("alpha counts = %+v", runs[0])
	}
	if runs[1].CurrentMode != "done" {
		t.Errorf("beta mode = %q", runs[1].CurrentMode)
	}
}

func TestListRunsEmptyRoot(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	runs, err := store.ListRuns()
	if err != nil || len(runs) != 0 {
		t.Errorf("runs = %v, err = %v", runs, err)
	}
}
