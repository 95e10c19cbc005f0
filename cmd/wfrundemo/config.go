package main

import (
	"fmt"
	"os"
	"strconv"
)

// config is the process-wide configuration for the demo CLI, loaded from
// environment variables matching spec.md §8's Environment list. It has no
// flags of its own; cobra subcommands read it once at startup.
type config struct {
	OpenAIAPIKey    string
	Model           string
	NodeMaxSteps    int
	ArtifactsDir    string
	LogLevel        string
}

// defaultModel mirrors the original runtime's WORKFLOW_MODEL default.
const defaultModel = "gpt-4o-mini"

// defaultNodeMaxSteps is the original runtime's WORKFLOW_NODE_MAX_STEPS default.
const defaultNodeMaxSteps = 100

// loadConfig reads environment variables, applying spec.md §8 defaults and
// bounds. It does not dial any network service; OPENAI_API_KEY is checked
// for presence only; an empty key is a configuration error, not verified
// against the provider.
func loadConfig() (config, error) {
	cfg := config{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		Model:        firstNonEmpty(os.Getenv("WORKFLOW_RUN_MODEL"), os.Getenv("WORKFLOW_MODEL"), defaultModel),
		NodeMaxSteps: defaultNodeMaxSteps,
		ArtifactsDir: os.Getenv("WORKFLOW_RUN_ARTIFACTS_DIR"),
		LogLevel:     os.Getenv("WORKFLOW_LOG_LEVEL"),
	}

	if raw := os.Getenv("WORKFLOW_NODE_MAX_STEPS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return config{}, fmt.Errorf("config: WORKFLOW_NODE_MAX_STEPS: %w", err)
		}
		if n < 1 || n > 100 {
			return config{}, fmt.Errorf("config: WORKFLOW_NODE_MAX_STEPS must be between 1 and 100, got %d", n)
		}
		cfg.NodeMaxSteps = n
	}

	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = "./wfrun-artifacts"
	}

	// spec.md §8: missing OPENAI_API_KEY fails the first node's loop with a
	// clear error, run status failed. The demo client has no real provider
	// to call, so it fails fast at startup rather than mid-run.
	if cfg.OpenAIAPIKey == "" {
		return config{}, fmt.Errorf("config: OPENAI_API_KEY is not set")
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
