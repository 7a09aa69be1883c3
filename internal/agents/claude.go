package agents

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ClaudeBackend invokes the claude CLI as a subprocess per query. The
// prompt goes in over stdin and the plain-text response comes back on
// stdout.
type ClaudeBackend struct {
	command string
	model   string
	workDir string
	timeout time.Duration
	procMgr *ProcessManager
}

// NewClaudeBackend creates a claude CLI adapter. The ProcessManager is
// optional; when nil, subprocesses are not tracked for shutdown.
func NewClaudeBackend(cfg Config, pm *ProcessManager) *ClaudeBackend {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &ClaudeBackend{
		command: command,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		timeout: cfg.QueryTimeout,
		procMgr: pm,
	}
}

// Query runs one claude invocation and returns its stdout.
func (b *ClaudeBackend) Query(ctx context.Context, system, user string) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	args := []string{"-p", "--dangerously-skip-permissions"}
	if system != "" {
		args = append(args, "--system-prompt", system)
	}
	if b.model != "" {
		args = append(args, "--model", b.model)
	}

	cmd := newCommand(ctx, b.command, args...)
	cmd.Dir = b.workDir
	cmd.Stdin = strings.NewReader(user)
	cmd.Env = scrubbedEnv()

	stdout, stderr, err := executeCommand(cmd, b.procMgr)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("claude query timed out after %s: %w", b.timeout, ctx.Err())
		}
		return "", fmt.Errorf("claude query failed: %w", err)
	}

	resp := strings.TrimSpace(string(stdout))
	if resp == "" {
		return "", fmt.Errorf("claude returned empty response (stderr: %s)", firstLine(string(stderr)))
	}
	return resp, nil
}

// Close is a no-op: the adapter spawns one subprocess per query.
func (b *ClaudeBackend) Close() error { return nil }

// scrubbedEnv returns the current environment without the variables the
// claude CLI sets when it is itself the parent process. Leaving them in
// place makes nested invocations refuse to run.
func scrubbedEnv() []string {
	env := os.Environ()
	out := env[:0:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") || strings.HasPrefix(kv, "CLAUDE_CODE_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
