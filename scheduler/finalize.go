package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/workspace"
)

// failRunLocked transitions the run (and its currently-active node) to
// failed, per spec.md §4.7: "Any exception escaping from a node's work path
// transitions the run to failed, marks the currently running node failed,
// and appends error/Run failed with the exception message."
func (s *Scheduler) failRunLocked(nodeID string, err error, now time.Time) {
	if nr := s.run.FindNodeRun(nodeID); nr != nil && nr.Status == wfgraph.NodeRunning {
		nr.Status = wfgraph.NodeFailed
		nr.FinishedAt = &now
		if nr.StartedAt != nil {
			d := now.Sub(*nr.StartedAt).Seconds() * 1000
			nr.DurationMs = &d
		}
		s.run.Progress.Failed++
	}
	s.run.Status = wfgraph.RunFailed
	s.run.Error = err.Error()
	s.run.FinishedAt = &now
	if s.run.StartedAt != nil {
		d := now.Sub(*s.run.StartedAt).Seconds() * 1000
		s.run.DurationMs = &d
	}
	s.run.ActiveNodeID = ""
	s.appendLogLocked(wfgraph.EventError, "Run failed", err.Error(), nodeID, nil, now)
	s.metrics.runFinished("failed")
}

// finalizeCancelledLocked transitions every non-terminal node run to
// cancelled and logs control/"Run cancelled" exactly once, per spec.md
// §4.7/§8: already-terminal runs are idempotent, and repeated calls must
// never emit a second "Run cancelled" log.
func (s *Scheduler) finalizeCancelledLocked(now time.Time) {
	if isTerminal(s.run.Status) {
		return
	}
	for i := range s.run.NodeRuns {
		nr := &s.run.NodeRuns[i]
		if nr.Status == wfgraph.NodeQueued || nr.Status == wfgraph.NodeRunning {
			nr.Status = wfgraph.NodeCancelled
			nr.FinishedAt = &now
			if nr.StartedAt != nil {
				d := now.Sub(*nr.StartedAt).Seconds() * 1000
				nr.DurationMs = &d
			}
		}
	}
	s.run.Status = wfgraph.RunCancelled
	s.run.FinishedAt = &now
	if s.run.StartedAt != nil {
		d := now.Sub(*s.run.StartedAt).Seconds() * 1000
		s.run.DurationMs = &d
	}
	s.run.ActiveNodeID = ""
	s.appendLogLocked(wfgraph.EventControl, "Run cancelled", "", "", nil, now)
	s.metrics.runFinished("cancelled")
}

// finalizeSuccessLocked implements spec.md §4.7 "Success finalization":
// compose the final summary/markdown from sink outputs, materialize
// deliverables (including code-bundle directories) under the run's
// workspace, write manifest.json, and populate run.outputs.
func (s *Scheduler) finalizeSuccessLocked(now time.Time) {
	sinkIDs := s.run.SinkNodeIDs()

	var summaries []string
	var finalMarkdown string
	for _, id := range sinkIDs {
		out := s.run.Meta.NodeOutputs[id]
		if out == nil {
			continue
		}
		if out.Summary != "" {
			summaries = append(summaries, out.Summary)
		}
		if finalMarkdown == "" {
			finalMarkdown = firstNonEmptyMarkdown(out)
		}
	}
	if finalMarkdown == "" {
		finalMarkdown = "# Workflow complete\n\n" + strings.Join(summaries, "\n\n")
	}
	finalSummary := strings.Join(summaries, " ")

	specs := []workspace.DeliverableSpec{
		{Name: "final-output.md", ArtifactKind: "file", Content: []byte(finalMarkdown)},
	}
	for _, name := range s.run.RequestedDeliverables {
		specs = append(specs, deliverableSpecFor(name, sinkIDs, s.run.Meta.NodeOutputs))
	}

	manifest, err := s.workspace.WriteDeliverables(s.layout, s.run.ID, s.run.WorkflowID, s.run.WorkflowName, specs, now)
	if err != nil {
		s.failRunLocked(s.run.ActiveNodeID, fmt.Errorf("writing deliverables: %w", err), now)
		return
	}

	s.run.Deliverables = make([]wfgraph.Deliverable, 0, len(manifest.Deliverables))
	for _, d := range manifest.Deliverables {
		s.run.Deliverables = append(s.run.Deliverables, wfgraph.Deliverable{
			ID:           wfgraph.NewDeliverableID(),
			Name:         d.Name,
			ArtifactKind: d.ArtifactKind,
			Path:         d.Path,
			SizeBytes:    d.SizeBytes,
			FileCount:    d.FileCount,
		})
	}

	s.run.Outputs = &wfgraph.Outputs{
		Summary:              finalSummary,
		FinalMarkdown:        finalMarkdown,
		SinkNodeIDs:          sinkIDs,
		NodeOutputCount:      len(s.run.Meta.NodeOutputs),
		ArtifactDirectory:    s.layout.Deliverables,
		ArtifactManifestPath: s.layout.ManifestPath,
		WorkspaceDirectory:   s.layout.Workspace,
		WorkspaceDirectories: []string{s.layout.Workspace, s.layout.AgentScripts, s.layout.UserUploads, s.layout.Deliverables},
	}

	s.run.Status = wfgraph.RunSuccess
	s.run.FinishedAt = &now
	if s.run.StartedAt != nil {
		d := now.Sub(*s.run.StartedAt).Seconds() * 1000
		s.run.DurationMs = &d
	}
	s.run.ActiveNodeID = ""
	s.appendLogLocked(wfgraph.EventOutput, "Workflow outputs finalized", finalSummary, "", map[string]any{
		"deliverables": manifest.Deliverables,
	}, now)
	s.metrics.runFinished("success")
}

// firstNonEmptyMarkdown picks data.final_markdown, data.finalMarkdown, or
// details.agentDetails.final_markdown, in that order, per spec.md §4.7.
func firstNonEmptyMarkdown(out *wfgraph.NodeOutput) string {
	if v, ok := out.Data["final_markdown"].(string); ok && v != "" {
		return v
	}
	if v, ok := out.Data["finalMarkdown"].(string); ok && v != "" {
		return v
	}
	if details, ok := out.Details["agentDetails"].(map[string]any); ok {
		if v, ok := details["final_markdown"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// deliverableSpecFor builds the workspace.DeliverableSpec for one requested
// deliverable name, searching sink node outputs' data.deliverables[name].
// A code-bundle-shaped payload (an object with a non-empty files map, with or
// without kind "code_bundle") persists as a directory; anything else persists as a single file (the
// string as-is, or pretty-JSON for structured payloads).
func deliverableSpecFor(name string, sinkIDs []string, outputs map[string]*wfgraph.NodeOutput) workspace.DeliverableSpec {
	for _, id := range sinkIDs {
		out := outputs[id]
		if out == nil {
			continue
		}
		deliverables, _ := out.Data["deliverables"].(map[string]any)
		if deliverables == nil {
			continue
		}
		raw, ok := deliverables[name]
		if !ok {
			continue
		}
		return buildDeliverableSpec(name, raw)
	}
	return workspace.DeliverableSpec{Name: name, ArtifactKind: "file", Content: []byte("")}
}

func buildDeliverableSpec(name string, raw any) workspace.DeliverableSpec {
	if files, ok := codeBundleFiles(raw); ok {
		return workspace.DeliverableSpec{Name: name, ArtifactKind: "directory", Files: files}
	}
	switch v := raw.(type) {
	case string:
		return workspace.DeliverableSpec{Name: name, ArtifactKind: "file", Content: []byte(v)}
	default:
		return workspace.DeliverableSpec{Name: name, ArtifactKind: "file", Content: []byte(prettyJSONBestEffort(v))}
	}
}

// codeBundleFiles recognizes a {files: {relativePath: content}} or
// {kind:"code_bundle", files:{...}} shaped deliverable payload.
func codeBundleFiles(raw any) (map[string]string, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	rawFiles, ok := m["files"].(map[string]any)
	if !ok || len(rawFiles) == 0 {
		return nil, false
	}
	files := make(map[string]string, len(rawFiles))
	for path, content := range rawFiles {
		text, ok := content.(string)
		if !ok {
			continue
		}
		files[path] = text
	}
	if len(files) == 0 {
		return nil, false
	}
	return files, true
}

func prettyJSONBestEffort(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
