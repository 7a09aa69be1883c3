// Package checkpoint persists run state as JSON snapshots under the
// output root. The on-disk layout is part of the external interface:
// dashboards and other tools read these files directly.
//
//	<root>/<slug>/pipeline_state.json
//	<root>/<slug>/dashboard_chat.json
//	<root>/<slug>/dashboard_activities.json
//	<root>/<slug>/dashboard_llm_logs.json
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

const (
	StateFile      = "pipeline_state.json"
	ChatFile       = "dashboard_chat.json"
	ActivitiesFile = "dashboard_activities.json"
	LlmLogsFile    = "dashboard_llm_logs.json"
)

// Store reads and writes run checkpoints under one output root.
type Store struct {
	root string
}

// NewStore creates a store rooted at root, creating the directory if
// needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the output root directory.
func (s *Store) Root() string { return s.root }

// Slugify converts a project title into a filesystem-safe directory
// name: lowercase, alphanumerics kept, everything else collapsed into
// single hyphens.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// RunDir returns the checkpoint directory for a run, creating it if
// needed.
func (s *Store) RunDir(slug string) (string, error) {
	dir := filepath.Join(s.root, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// SaveState writes the pipeline state snapshot for a run. The write
// goes through a temp file and rename so readers never observe a
// half-written snapshot.
func (s *Store) SaveState(slug string, state interface{}) error {
	return s.saveJSON(slug, StateFile, state)
}

// LoadState reads the pipeline state snapshot into out. Returns
// os.ErrNotExist when the run has no snapshot.
func (s *Store) LoadState(slug string, out interface{}) error {
	return s.loadJSON(slug, StateFile, out)
}

// SaveLog writes one of the dashboard log files (a JSON array).
func (s *Store) SaveLog(slug, file string, entries interface{}) error {
	return s.saveJSON(slug, file, entries)
}

// LoadLog reads a dashboard log file into out. A missing file or a
// file that does not hold a JSON array is treated as empty rather than
// an error; stale or hand-edited logs must not block a resume.
func (s *Store) LoadLog(slug, file string, out interface{}) error {
	err := s.loadJSON(slug, file, out)
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return nil
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return nil
	}
	return err
}

// RunInfo summarizes one resumable run for the dashboard's picker.
type RunInfo struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	CurrentMode string `json:"current_mode"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
}

// ListRuns scans the output root for checkpoints.
func (s *Store) ListRuns() ([]RunInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan output root: %w", err)
	}

	var runs []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var state struct {
			Title          string   `json:"title"`
			CurrentMode    string   `json:"current_mode"`
			CompletedTasks []string `json:"completed_tasks"`
			FailedTasks    []string `json:"failed_tasks"`
		}
		if err := s.loadJSON(entry.Name(), StateFile, &state); err != nil {
			continue // not a checkpoint directory
		}
		runs = append(runs, RunInfo{
			Slug:        entry.Name(),
			Title:       state.Title,
			CurrentMode: state.CurrentMode,
			Completed:   len(state.CompletedTasks),
			Failed:      len(state.FailedTasks),
		})
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Slug < runs[j].Slug })
	return runs, nil
}

func (s *Store) saveJSON(slug, file string, v interface{}) error {
	dir, err := s.RunDir(slug)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", file, err)
	}

	path := filepath.Join(dir, file)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", file, err)
	}
	return nil
}

func (s *Store) loadJSON(slug, file string, out interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.root, slug, file))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", file, err)
	}
	return nil
}
