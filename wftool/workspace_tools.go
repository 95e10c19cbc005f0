package wftool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

// resolveInWorkspace joins rel onto tc.Workspace and rejects any path that
// escapes the workspace root, per spec.md §4.2: "Every path is resolved and
// rejected if it escapes the workspace root."
func resolveInWorkspace(root, rel string) (string, error) {
	cleanRel, err := safeRelativePath(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, cleanRel)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", rel)
	}
	return absFull, nil
}

// --- workspace_list_files ---------------------------------------------------

type WorkspaceListFilesTool struct{}

func (WorkspaceListFilesTool) Name() string { return "workspace_list_files" }

func (WorkspaceListFilesTool) Spec() Spec {
	return Spec{
		Name:         "workspace_list_files",
		Description:  "List files and directories under a path in the run's workspace.",
		RequiredArgs: nil,
		Args: map[string]ArgSpec{
			"path": {Type: "string", Description: "Relative path to list; defaults to the workspace root."},
		},
		Limitations: []string{"Confined to the run's workspace root; absolute or escaping paths are rejected."},
	}
}

func (WorkspaceListFilesTool) Call(_ context.Context, tc Context, args map[string]any) (map[string]any, error) {
	rel, _ := args["path"].(string)
	if rel == "" {
		rel = "."
	}
	target, err := resolveInWorkspace(tc.Workspace, rel)
	if err != nil {
		return nil, fmt.Errorf("workspace_list_files: %w", err)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("workspace_list_files: %w", err)
	}

	type fileEntry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"isDir"`
		Size  int64  `json:"sizeBytes"`
	}
	files := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		info, statErr := e.Info()
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		files = append(files, fileEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}

	return map[string]any{
		"path":  rel,
		"files": files,
		"workspaceRefs": []wfgraph.WorkspaceRef{
			{Path: rel, Kind: "directory", Operation: "list", SourceTool: "workspace_list_files", FileCount: len(files)},
		},
	}, nil
}

// --- workspace_read_file ----------------------------------------------------

type WorkspaceReadFileTool struct {
	MaxBytes int // 0 means a 1 MiB default cap
}

func (WorkspaceReadFileTool) Name() string { return "workspace_read_file" }

func (WorkspaceReadFileTool) Spec() Spec {
	return Spec{
		Name:         "workspace_read_file",
		Description:  "Read a text file from the run's workspace.",
		RequiredArgs: []string{"path"},
		Args: map[string]ArgSpec{
			"path": {Type: "string", Description: "Relative path of the file to read."},
		},
		Limitations: []string{"Confined to the run's workspace root.", "Reads are capped at 1 MiB."},
	}
}

func (t WorkspaceReadFileTool) Call(_ context.Context, tc Context, args map[string]any) (map[string]any, error) {
	rel, _ := args["path"].(string)
	if rel == "" {
		return nil, fmt.Errorf("workspace_read_file: path is required")
	}
	target, err := resolveInWorkspace(tc.Workspace, rel)
	if err != nil {
		return nil, fmt.Errorf("workspace_read_file: %w", err)
	}

	maxBytes := t.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("workspace_read_file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("workspace_read_file: %q is a directory", rel)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("workspace_read_file: %w", err)
	}
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}

	return map[string]any{
		"path":      rel,
		"content":   string(data),
		"truncated": truncated,
		"sizeBytes": info.Size(),
		"workspaceRefs": []wfgraph.WorkspaceRef{
			{Path: rel, Kind: "file", Operation: "read", SourceTool: "workspace_read_file", SizeBytes: info.Size()},
		},
	}, nil
}

// --- workspace_write_file ---------------------------------------------------

// WorkspaceWriteFileTool writes one or more files, accepting either a
// single {path, content} pair or a batch {files: [{path, content}, ...]}.
type WorkspaceWriteFileTool struct{}

func (WorkspaceWriteFileTool) Name() string { return "workspace_write_file" }

func (WorkspaceWriteFileTool) Spec() Spec {
	return Spec{
		Name:         "workspace_write_file",
		Description:  "Write one or more files into the run's workspace.",
		RequiredArgs: nil,
		Args: map[string]ArgSpec{
			"path":    {Type: "string", Description: "Relative path for a single-file write."},
			"content": {Type: "string", Description: "Content for a single-file write."},
			"files":   {Type: "array", Description: "Batch form: [{path, content}, ...], up to 20 entries."},
		},
		Limitations: []string{"Confined to the run's workspace root.", "Batch writes are capped at 20 files."},
	}
}

type writeEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (WorkspaceWriteFileTool) Call(_ context.Context, tc Context, args map[string]any) (map[string]any, error) {
	entries, err := writeEntriesFromArgs(args)
	if err != nil {
		return nil, fmt.Errorf("workspace_write_file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("workspace_write_file: path/content or files is required")
	}
	if len(entries) > sandboxMaxFiles {
		return nil, fmt.Errorf("workspace_write_file: at most %d files per call", sandboxMaxFiles)
	}

	written := make([]map[string]any, 0, len(entries))
	refs := make([]wfgraph.WorkspaceRef, 0, len(entries))
	for _, e := range entries {
		target, rErr := resolveInWorkspace(tc.Workspace, e.Path)
		if rErr != nil {
			return nil, fmt.Errorf("workspace_write_file: %w", rErr)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("workspace_write_file: %w", err)
		}
		if err := os.WriteFile(target, []byte(e.Content), 0o644); err != nil {
			return nil, fmt.Errorf("workspace_write_file: %w", err)
		}
		written = append(written, map[string]any{"path": e.Path, "sizeBytes": len(e.Content)})
		refs = append(refs, wfgraph.WorkspaceRef{
			Path: e.Path, Kind: "file", Operation: "write",
			SourceTool: "workspace_write_file", SizeBytes: int64(len(e.Content)),
		})
	}

	return map[string]any{
		"written":       written,
		"workspaceRefs": refs,
	}, nil
}

func writeEntriesFromArgs(args map[string]any) ([]writeEntry, error) {
	if rawFiles, ok := args["files"]; ok {
		list, ok := rawFiles.([]any)
		if !ok {
			return nil, fmt.Errorf("files must be an array")
		}
		entries := make([]writeEntry, 0, len(list))
		for _, raw := range list {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("each files entry must be an object")
			}
			path, _ := m["path"].(string)
			content, _ := m["content"].(string)
			if path == "" {
				return nil, fmt.Errorf("each files entry requires a path")
			}
			entries = append(entries, writeEntry{Path: path, Content: content})
		}
		return entries, nil
	}

	path, _ := args["path"].(string)
	if path == "" {
		return nil, nil
	}
	content, _ := args["content"].(string)
	return []writeEntry{{Path: path, Content: content}}, nil
}

// --- workspace_exec ----------------------------------------------------------

// WorkspaceExecTool runs a shell command with its working directory fixed
// to the run's workspace root. Unlike sandbox_exec, it has access to
// whatever files earlier tool calls placed in the workspace, but shares the
// same wall-clock and output-size discipline.
type WorkspaceExecTool struct{}

func (WorkspaceExecTool) Name() string { return "workspace_exec" }

func (WorkspaceExecTool) Spec() Spec {
	return Spec{
		Name:         "workspace_exec",
		Description:  "Run a shell command with its working directory set to the run's workspace.",
		RequiredArgs: []string{"command"},
		Args: map[string]ArgSpec{
			"command":          {Type: "string", Description: "Shell command to execute."},
			"timeout_seconds":  {Type: "number", Description: "Wall-clock timeout (0.25-30, default 5)."},
			"max_output_chars": {Type: "number", Description: "Truncate stdout/stderr to this many characters (200-200000, default 20000)."},
		},
		Limitations: []string{
			"Confined to the run's workspace directory.",
			"No network access guarantee beyond the host's own sandboxing.",
			"Process is killed at the wall-clock timeout.",
		},
	}
}

func (WorkspaceExecTool) Call(ctx context.Context, tc Context, args map[string]any) (map[string]any, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("workspace_exec: command is required")
	}
	timeout := clampDuration(durationArg(args["timeout_seconds"], sandboxDefTimeout), sandboxMinTimeout, sandboxMaxTimeout)
	maxOutput := clampInt(numArg(args["max_output_chars"], sandboxDefOutChars), sandboxMinOutChars, sandboxMaxOutChars)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = tc.Workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	var returnCode any
	if timedOut {
		returnCode = nil
	} else if exitErr, ok := runErr.(*exec.ExitError); ok {
		returnCode = exitErr.ExitCode()
	} else if runErr == nil {
		returnCode = 0
	} else {
		returnCode = nil
	}

	outStr, outTrunc := truncateOutput(stdout.String(), maxOutput)
	errStr, errTrunc := truncateOutput(stderr.String(), maxOutput)

	return map[string]any{
		"command":          command,
		"timed_out":        timedOut,
		"return_code":      returnCode,
		"stdout":            outStr,
		"stderr":            errStr,
		"stdout_truncated": outTrunc,
		"stderr_truncated": errTrunc,
		"duration_ms":      float64(duration.Microseconds()) / 1000.0,
		"workspaceRefs": []wfgraph.WorkspaceRef{
			{Path: ".", Kind: "directory", Operation: "exec", SourceTool: "workspace_exec"},
		},
	}, nil
}
