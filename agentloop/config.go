package agentloop

import (
	"os"
	"strconv"
)

// DefaultMaxSteps is used when WORKFLOW_NODE_MAX_STEPS is unset or invalid.
const DefaultMaxSteps = 100

// MaxStepsFromEnv reads WORKFLOW_NODE_MAX_STEPS and clamps it to [1, 100]
// per spec.md §6, falling back to DefaultMaxSteps when unset or malformed.
func MaxStepsFromEnv() int {
	raw := os.Getenv("WORKFLOW_NODE_MAX_STEPS")
	if raw == "" {
		return DefaultMaxSteps
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return DefaultMaxSteps
	}
	return ClampMaxSteps(n)
}

// ClampMaxSteps bounds n to [1, 100].
func ClampMaxSteps(n int) int {
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
