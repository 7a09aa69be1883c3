package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveInside resolves a step-supplied path against the work
// directory and rejects anything that escapes it. Absolute paths are
// allowed only when already inside the work directory.
func resolveInside(workDir, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workDir, abs)
	}
	abs = filepath.Clean(abs)

	root := filepath.Clean(workDir)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes work directory %q", p, workDir)
	}
	return abs, nil
}

// writeFileInside writes content to a contained path, creating parent
// directories as needed.
func writeFileInside(workDir, p, content string) (string, error) {
	abs, err := resolveInside(workDir, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return abs, nil
}

// mkdirInside creates a contained directory.
func mkdirInside(workDir, p string) (string, error) {
	abs, err := resolveInside(workDir, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return abs, nil
}
