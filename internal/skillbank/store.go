// Package skillbank persists skills learned from successful task
// executions, so later runs can hand them to the planner.
package skillbank

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/braindock/braindock/internal/agents"
)

// Store is a SQLite-backed skill bank.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the skill bank at dbPath with WAL mode
// and a busy timeout.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open skill bank: %w", err)
	}
	db.SetMaxOpenConns(2)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMemoryStore creates an in-memory skill bank for testing.
func NewMemoryStore(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory skill bank: %w", err)
	}
	db.SetMaxOpenConns(2)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a skill, or refreshes an existing one with the same id.
// Usage count survives the refresh.
func (s *Store) Add(ctx context.Context, skill *agents.Skill) error {
	tags, err := json.Marshal(skill.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skills (id, name, description, tags, pattern, example_code, source_task)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			tags = excluded.tags,
			pattern = excluded.pattern,
			example_code = excluded.example_code,
			source_task = excluded.source_task,
			updated_at = datetime('now')`,
		skill.ID, skill.Name, skill.Description, string(tags), skill.Pattern, skill.ExampleCode, skill.SourceTask)
	if err != nil {
		return fmt.Errorf("failed to save skill %s: %w", skill.ID, err)
	}
	return nil
}

// Get returns one skill by id, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id string) (*agents.Skill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, tags, pattern, example_code, source_task, usage_count
		FROM skills WHERE id = ?`, id)
	return scanSkill(row)
}

// List returns all skills ordered by usage count, most used first.
func (s *Store) List(ctx context.Context) ([]*agents.Skill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, tags, pattern, example_code, source_task, usage_count
		FROM skills ORDER BY usage_count DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list skills: %w", err)
	}
	defer rows.Close()
	return collectSkills(rows)
}

// FindByTags returns skills sharing at least one tag with the query,
// most used first. An empty query matches nothing.
func (s *Store) FindByTags(ctx context.Context, tags []string) ([]*agents.Skill, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	// Tags are stored as a JSON array; match any requested tag as a
	// quoted element.
	query := `SELECT id, name, description, tags, pattern, example_code, source_task, usage_count
		FROM skills WHERE `
	args := make([]interface{}, 0, len(tags))
	for i, tag := range tags {
		if i > 0 {
			query += " OR "
		}
		query += "tags LIKE ?"
		args = append(args, `%"`+tag+`"%`)
	}
	query += " ORDER BY usage_count DESC, name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query skills by tags: %w", err)
	}
	defer rows.Close()
	return collectSkills(rows)
}

// IncrementUsage bumps a skill's usage counter.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE skills SET usage_count = usage_count + 1, updated_at = datetime('now')
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s: %w", id, err)
	}
	return nil
}

// Refs returns the compact skill list handed to the planner.
func (s *Store) Refs(ctx context.Context) ([]agents.SkillRef, error) {
	skills, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]agents.SkillRef, 0, len(skills))
	for _, skill := range skills {
		refs = append(refs, agents.SkillRef{ID: skill.ID, Name: skill.Name, Description: skill.Description})
	}
	return refs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSkill(row rowScanner) (*agents.Skill, error) {
	var skill agents.Skill
	var tags string
	if err := row.Scan(&skill.ID, &skill.Name, &skill.Description, &tags,
		&skill.Pattern, &skill.ExampleCode, &skill.SourceTask, &skill.UsageCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &skill.Tags); err != nil {
		skill.Tags = nil
	}
	return &skill, nil
}

func collectSkills(rows *sql.Rows) ([]*agents.Skill, error) {
	var skills []*agents.Skill
	for rows.Next() {
		skill, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}
