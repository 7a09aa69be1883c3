package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/braindock/braindock/internal/agents"
)

// entrypoint is a detected way to run the generated project.
type entrypoint struct {
	command string
	method  string // which marker file identified it
}

// errorPatterns flag the common failure signatures in verification
// output; the first match becomes the error summary.
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^Traceback \(most recent call last\):`),
	regexp.MustCompile(`(?im)^\s*(syntax|type|value|import|module.?not.?found|name)error[:\s]`),
	regexp.MustCompile(`(?m)^panic: `),
	regexp.MustCompile(`(?im)^error[:\s]`),
	regexp.MustCompile(`(?i)cannot find module`),
	regexp.MustCompile(`(?i)command not found`),
}

// Verify detects the project's entrypoint and runs it under a
// wall-clock timeout. A process still running when the timeout fires is
// treated as a working long-running server and counts as success, with
// detection_method set to "timeout". No detectable entrypoint also
// counts as success: there is nothing to falsify.
func (e *Executor) Verify(ctx context.Context, timeout time.Duration) *agents.VerifyResult {
	ep := detectEntrypoint(e.workDir)
	if ep == nil {
		return &agents.VerifyResult{
			Success:         true,
			DetectionMethod: "none",
		}
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err := runShell(runCtx, e.workDir, ep.command, e.procMgr)

	result := &agents.VerifyResult{
		Command:         ep.command,
		Stdout:          truncateTail(stdout, maxStdoutChars),
		Stderr:          truncateTail(stderr, maxStderrChars),
		DetectionMethod: ep.method,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Success = true
		result.DetectionMethod = "timeout"
		return result
	}

	if err == nil {
		result.Success = true
		return result
	}

	result.ExitCode = exitCodeOf(err)
	result.ErrorSummary = summarizeError(stdout, stderr)
	if result.ErrorSummary == "" {
		result.ErrorSummary = firstLineOf(err.Error())
	}
	return result
}

// detectEntrypoint probes marker files in rough order of specificity.
func detectEntrypoint(dir string) *entrypoint {
	has := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}

	if has("package.json") {
		if script := npmScript(filepath.Join(dir, "package.json")); script != "" {
			return &entrypoint{command: "npm run " + script + " --if-present", method: "package.json"}
		}
	}
	if has("manage.py") {
		return &entrypoint{command: "python3 manage.py check", method: "manage.py"}
	}
	for _, name := range []string{"main.py", "app.py"} {
		if has(name) {
			return &entrypoint{command: "python3 " + name, method: name}
		}
	}
	if has("go.mod") {
		return &entrypoint{command: "go run .", method: "go.mod"}
	}
	if has("run.sh") {
		return &entrypoint{command: "sh run.sh", method: "run.sh"}
	}
	if has("Makefile") {
		return &entrypoint{command: "make", method: "Makefile"}
	}
	if has("index.js") {
		return &entrypoint{command: "node index.js", method: "index.js"}
	}
	return nil
}

// npmScript picks the first of start/dev/build defined in package.json.
func npmScript(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	for _, name := range []string{"start", "dev", "build"} {
		if pkg.Scripts[name] != "" {
			return name
		}
	}
	return ""
}

// summarizeError scans combined output for a known failure signature
// and returns the surrounding line.
func summarizeError(stdout, stderr string) string {
	combined := stderr + "\n" + stdout
	for _, pat := range errorPatterns {
		if loc := pat.FindStringIndex(combined); loc != nil {
			lineStart := strings.LastIndexByte(combined[:loc[0]], '\n') + 1
			rest := combined[lineStart:]
			return strings.TrimSpace(firstLineOf(rest))
		}
	}
	return ""
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
