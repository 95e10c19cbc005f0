// Package workspace implements the per-run workspace manager (spec.md
// §4.3, component C3): on-disk directory layout, user-upload
// materialization, and deliverable/manifest persistence.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRunsRoot is the base directory new run workspaces are created
// under when NewManager is given an empty runsRoot. No environment variable
// is consulted.
const DefaultRunsRoot = ".ninth-seat-artifacts/workflow-runs"

// MaxNameLen bounds any user-controlled name used as a filesystem path
// component (spec.md §4.3).
const MaxNameLen = 120

// Layout describes the directories and well-known files created for a run.
type Layout struct {
	Root                     string
	Workspace                string
	AgentScripts             string
	UserUploads              string
	Inputs                   string
	Deliverables             string
	RunInputsPath            string
	RunContextPath           string
	UploadedFilesManifestPath string
	ManifestPath             string
}

// Manager creates and manages per-run workspace directories under RunsRoot.
type Manager struct {
	RunsRoot string
}

// NewManager returns a Manager rooted at runsRoot. An empty runsRoot falls
// back to DefaultRunsRoot.
func NewManager(runsRoot string) *Manager {
	if runsRoot == "" {
		runsRoot = DefaultRunsRoot
	}
	return &Manager{RunsRoot: runsRoot}
}

// CreateLayout creates the full directory tree for runID and returns the
// resulting Layout. runID is sanitized before use as a path component.
func (m *Manager) CreateLayout(runID string) (Layout, error) {
	safeID := SanitizeName(runID, "run")
	root := filepath.Join(m.RunsRoot, safeID)
	ws := filepath.Join(root, "workspace")

	l := Layout{
		Root:                      root,
		Workspace:                 ws,
		AgentScripts:              filepath.Join(ws, "agent_scripts"),
		UserUploads:               filepath.Join(ws, "user_uploads"),
		Inputs:                    filepath.Join(ws, "inputs"),
		Deliverables:              filepath.Join(ws, "deliverables"),
		ManifestPath:              filepath.Join(ws, "deliverables", "manifest.json"),
	}
	l.RunInputsPath = filepath.Join(l.Inputs, "run_inputs.json")
	l.RunContextPath = filepath.Join(l.Inputs, "run_context.json")
	l.UploadedFilesManifestPath = filepath.Join(l.Inputs, "uploaded_files_manifest.json")

	for _, dir := range []string{l.AgentScripts, l.UserUploads, l.Inputs, l.Deliverables} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Layout{}, fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}
	return l, nil
}

// SanitizeName keeps [A-Za-z0-9._-], collapses everything else to '_',
// strips leading/trailing '.'/'_', and limits the result to MaxNameLen
// characters, falling back to fallback when the result would be empty.
func SanitizeName(name, fallback string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := strings.Trim(b.String(), "._")
	if len(safe) > MaxNameLen {
		safe = safe[:MaxNameLen]
		safe = strings.Trim(safe, "._")
	}
	if safe == "" {
		return fallback
	}
	return safe
}

// WriteRunInputs writes the run's resolved inputs as run_inputs.json.
func (m *Manager) WriteRunInputs(l Layout, inputs map[string]any) error {
	return writeJSON(l.RunInputsPath, inputs)
}

// WriteRunContext writes run_context.json — workflow/run identity fields
// the sandbox and workspace tools can read back without a network call.
func (m *Manager) WriteRunContext(l Layout, context map[string]any) error {
	return writeJSON(l.RunContextPath, context)
}

func writeBytes(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", path, err)
	}
	return nil
}
