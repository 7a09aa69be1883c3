package agents

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Backend is a single LLM invocation surface. Implementations are
// stateless between calls; conversational context is carried in the
// prompts themselves.
type Backend interface {
	// Query sends a system and user prompt and returns the raw
	// response text.
	Query(ctx context.Context, system, user string) (string, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Config configures a backend adapter.
type Config struct {
	Command      string        // CLI binary, e.g. "claude"
	Model        string        // optional model override
	WorkDir      string        // working directory for the subprocess
	QueryTimeout time.Duration // per-query deadline, 0 means none
}

// New creates a backend from the configured command. The command name
// doubles as the adapter type.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Command {
	case "", "claude":
		return NewClaudeBackend(cfg, pm), nil
	default:
		return nil, fmt.Errorf("unknown backend command: %s", cfg.Command)
	}
}

// QueryFunc adapts a plain function to the Backend interface, used by
// tests and by in-process fakes.
type QueryFunc func(ctx context.Context, system, user string) (string, error)

func (f QueryFunc) Query(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

func (f QueryFunc) Close() error { return nil }

// CallLog is one recorded LLM interaction, exposed to the dashboard.
type CallLog struct {
	TS              float64 `json:"ts"`
	Agent           string  `json:"agent"`
	Stage           string  `json:"stage"`
	Direction       string  `json:"direction"` // request | response | error
	Content         string  `json:"content"`
	EstimatedTokens int     `json:"estimated_tokens"`
}

// estimateTokens approximates token usage from text length. Four
// characters per token is coarse but stable enough for budget checks.
func estimateTokens(text string) int {
	return len(text) / 4
}

// LoggingBackend wraps a Backend and records every request and
// response, tracking a running token estimate for budget enforcement.
type LoggingBackend struct {
	inner Backend

	mu     sync.Mutex
	agent  string
	stage  string
	logs   []CallLog
	tokens int
	sink   func(CallLog)
}

// NewLoggingBackend wraps inner. sink, when non-nil, receives each log
// entry as it is recorded (the session uses this to persist logs).
func NewLoggingBackend(inner Backend, sink func(CallLog)) *LoggingBackend {
	return &LoggingBackend{inner: inner, sink: sink}
}

// SetStage labels subsequent calls with the agent and pipeline stage
// that issued them.
func (b *LoggingBackend) SetStage(agent, stage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agent = agent
	b.stage = stage
}

// TokensUsed returns the cumulative token estimate across all calls.
func (b *LoggingBackend) TokensUsed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Logs returns a copy of all recorded call logs.
func (b *LoggingBackend) Logs() []CallLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]CallLog, len(b.logs))
	copy(out, b.logs)
	return out
}

func (b *LoggingBackend) record(direction, content string) {
	entry := CallLog{
		TS:              float64(time.Now().UnixNano()) / 1e9,
		Direction:       direction,
		Content:         truncate(content, 4000),
		EstimatedTokens: estimateTokens(content),
	}

	b.mu.Lock()
	entry.Agent = b.agent
	entry.Stage = b.stage
	b.logs = append(b.logs, entry)
	b.tokens += entry.EstimatedTokens
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink(entry)
	}
}

func (b *LoggingBackend) Query(ctx context.Context, system, user string) (string, error) {
	b.record("request", system+"\n"+user)

	resp, err := b.inner.Query(ctx, system, user)
	if err != nil {
		b.record("error", err.Error())
		log.Printf("backend query failed: %v", err)
		return "", err
	}

	b.record("response", resp)
	return resp, nil
}

func (b *LoggingBackend) Close() error {
	return b.inner.Close()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}

// firstLine returns the first non-empty line of s, for compact logging.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
