package config

// DefaultConfig returns the standard run configuration.
func DefaultConfig() *RunConfig {
	return &RunConfig{
		OutputRoot:              "output",
		MaxTaskRetries:          2,
		MaxReflectionIterations: 2,
		MaxDebateRounds:         3,
		MaxFailures:             3,
		MinConfidence:           0.6,
		MaxEntropy:              0.7,
		EnableHumanEscalation:   true,
		EscalationTokenBudget:   0, // disabled unless configured
		ServerPort:              8765,
		Backend: BackendConfig{
			Command:       "claude",
			QueryTimeout:  300,
			StepTimeout:   120,
			VerifyTimeout: 30,
		},
	}
}
