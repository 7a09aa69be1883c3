package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*RunConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.braindock/config.json
// Project: .braindock/config.json (relative to cwd)
func LoadDefault() (*RunConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".braindock", "config.json")
	projectPath := filepath.Join(".braindock", "config.json")

	return Load(globalPath, projectPath)
}

// fileConfig mirrors RunConfig with pointer fields so a config file
// can override any subset without zeroing the rest.
type fileConfig struct {
	OutputRoot              *string  `json:"output_root"`
	MaxTaskRetries          *int     `json:"max_task_retries"`
	MaxReflectionIterations *int     `json:"max_reflection_iterations"`
	MaxDebateRounds         *int     `json:"max_debate_rounds"`
	MaxFailures             *int     `json:"max_failures"`
	MinConfidence           *float64 `json:"min_confidence"`
	MaxEntropy              *float64 `json:"max_entropy"`
	SkipExecution           *bool    `json:"skip_execution"`
	SkipSkillLearning       *bool    `json:"skip_skill_learning"`
	EnableHumanEscalation   *bool    `json:"enable_human_escalation"`
	EscalationTokenBudget   *int     `json:"escalation_token_budget"`
	ServerPort              *int     `json:"server_port"`
	Backend                 *struct {
		Command       *string `json:"command"`
		Model         *string `json:"model"`
		QueryTimeout  *int    `json:"query_timeout"`
		StepTimeout   *int    `json:"step_timeout"`
		VerifyTimeout *int    `json:"verify_timeout"`
	} `json:"backend"`
}

// mergeConfigFile reads a JSON config file and merges the fields it
// sets into base. Missing files are silently skipped.
func mergeConfigFile(base *RunConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded fileConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.OutputRoot != nil {
		base.OutputRoot = *loaded.OutputRoot
	}
	if loaded.MaxTaskRetries != nil {
		base.MaxTaskRetries = *loaded.MaxTaskRetries
	}
	if loaded.MaxReflectionIterations != nil {
		base.MaxReflectionIterations = *loaded.MaxReflectionIterations
	}
	if loaded.MaxDebateRounds != nil {
		base.MaxDebateRounds = *loaded.MaxDebateRounds
	}
	if loaded.MaxFailures != nil {
		base.MaxFailures = *loaded.MaxFailures
	}
	if loaded.MinConfidence != nil {
		base.MinConfidence = *loaded.MinConfidence
	}
	if loaded.MaxEntropy != nil {
		base.MaxEntropy = *loaded.MaxEntropy
	}
	if loaded.SkipExecution != nil {
		base.SkipExecution = *loaded.SkipExecution
	}
	if loaded.SkipSkillLearning != nil {
		base.SkipSkillLearning = *loaded.SkipSkillLearning
	}
	if loaded.EnableHumanEscalation != nil {
		base.EnableHumanEscalation = *loaded.EnableHumanEscalation
	}
	if loaded.EscalationTokenBudget != nil {
		base.EscalationTokenBudget = *loaded.EscalationTokenBudget
	}
	if loaded.ServerPort != nil {
		base.ServerPort = *loaded.ServerPort
	}
	if loaded.Backend != nil {
		if loaded.Backend.Command != nil {
			base.Backend.Command = *loaded.Backend.Command
		}
		if loaded.Backend.Model != nil {
			base.Backend.Model = *loaded.Backend.Model
		}
		if loaded.Backend.QueryTimeout != nil {
			base.Backend.QueryTimeout = *loaded.Backend.QueryTimeout
		}
		if loaded.Backend.StepTimeout != nil {
			base.Backend.StepTimeout = *loaded.Backend.StepTimeout
		}
		if loaded.Backend.VerifyTimeout != nil {
			base.Backend.VerifyTimeout = *loaded.Backend.VerifyTimeout
		}
	}

	return nil
}
