package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DeliverableSpec describes one deliverable to persist under
// Layout.Deliverables: either Content (text) bytes for a single file, or
// Files (relativePath -> content) for a code-bundle directory.
type DeliverableSpec struct {
	Name         string
	ArtifactKind string // "file" | "text" | "directory"
	Content      []byte
	Files        map[string]string
	SizeBytes    int64
	FileCount    int
}

// WrittenDeliverable is the persisted form of a DeliverableSpec.
type WrittenDeliverable struct {
	Name         string `json:"name"`
	ArtifactKind string `json:"artifactKind"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
	FileCount    int    `json:"fileCount,omitempty"`
}

// Manifest is the manifest.json document: run identity plus one
// WrittenDeliverable entry per persisted deliverable.
type Manifest struct {
	RunID        string               `json:"runId"`
	WorkflowID   string               `json:"workflowId"`
	WorkflowName string               `json:"workflowName"`
	CreatedAt    time.Time            `json:"createdAt"`
	Deliverables []WrittenDeliverable `json:"deliverables"`
}

// WriteDeliverables persists each spec under l.Deliverables (sanitizing its
// name) and writes manifest.json alongside, per spec.md §4.3.
func (m *Manager) WriteDeliverables(l Layout, runID, workflowID, workflowName string, specs []DeliverableSpec, now time.Time) (Manifest, error) {
	written := make([]WrittenDeliverable, 0, len(specs))
	used := make(map[string]int)

	for _, spec := range specs {
		safeName := dedupeName(SanitizeName(spec.Name, "deliverable"), used)
		path := filepath.Join(l.Deliverables, safeName)

		if spec.ArtifactKind == "directory" {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return Manifest{}, fmt.Errorf("workspace: create deliverable dir %s: %w", path, err)
			}
			relPaths := make([]string, 0, len(spec.Files))
			for rel, content := range spec.Files {
				filePath := filepath.Join(path, filepath.FromSlash(rel))
				if err := writeBytes(filePath, []byte(content)); err != nil {
					return Manifest{}, err
				}
				relPaths = append(relPaths, rel)
			}
			sort.Strings(relPaths)
			if err := writeJSON(filepath.Join(path, "_manifest.json"), map[string]any{"files": relPaths}); err != nil {
				return Manifest{}, err
			}
			written = append(written, WrittenDeliverable{
				Name: safeName, ArtifactKind: "directory", Path: path, FileCount: len(spec.Files),
			})
			continue
		}

		if err := writeBytes(path, spec.Content); err != nil {
			return Manifest{}, err
		}
		written = append(written, WrittenDeliverable{
			Name: safeName, ArtifactKind: spec.ArtifactKind, Path: path, SizeBytes: int64(len(spec.Content)),
		})
	}

	manifest := Manifest{
		RunID:        runID,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		CreatedAt:    now,
		Deliverables: written,
	}
	if err := writeJSON(l.ManifestPath, manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// WriteUploadedFilesManifest writes uploaded_files_manifest.json, the
// per-run record of every materialized upload (spec.md §4.3).
func (m *Manager) WriteUploadedFilesManifest(l Layout, files []UploadedFile) error {
	return writeJSON(l.UploadedFilesManifestPath, map[string]any{"files": files})
}
