package wftool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryListToolsPreservesOrder(t *testing.T) {
	reg := NewRegistry(WorkspaceListFilesTool{}, WorkspaceReadFileTool{}, WorkspaceWriteFileTool{}, WorkspaceExecTool{})
	specs := reg.ListTools()
	if len(specs) != 4 {
		t.Fatalf("want 4 tools, got %d", len(specs))
	}
	if specs[0].Name != "workspace_list_files" {
		t.Fatalf("want registration order preserved, got %q first", specs[0].Name)
	}
}

func TestRunToolUnknownName(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.RunTool(context.Background(), Context{}, "nope", nil)
	if err == nil {
		t.Fatal("want error for unknown tool")
	}
	if _, ok := err.(ErrUnknownTool); !ok {
		t.Fatalf("want ErrUnknownTool, got %T", err)
	}
}

func TestSafeRelativePathRejectsEscapes(t *testing.T) {
	cases := []string{"../escape", "/abs/path", "a/../../b", ""}
	for _, c := range cases {
		if _, err := safeRelativePath(c); err == nil {
			t.Fatalf("want rejection for %q", c)
		}
	}
	if rel, err := safeRelativePath("sub/dir/file.txt"); err != nil || rel != "sub/dir/file.txt" {
		t.Fatalf("want clean relative path to pass, got %q, %v", rel, err)
	}
}

func TestWorkspaceWriteThenReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	tc := Context{Workspace: root}

	writeTool := WorkspaceWriteFileTool{}
	_, err := writeTool.Call(context.Background(), tc, map[string]any{
		"path": "notes/plan.md", "content": "hello workspace",
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "notes", "plan.md")); err != nil {
		t.Fatalf("want file on disk: %v", err)
	}

	readTool := WorkspaceReadFileTool{}
	out, err := readTool.Call(context.Background(), tc, map[string]any{"path": "notes/plan.md"})
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if out["content"] != "hello workspace" {
		t.Fatalf("want round-tripped content, got %#v", out["content"])
	}
}

func TestWorkspaceReadRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	readTool := WorkspaceReadFileTool{}
	_, err := readTool.Call(context.Background(), Context{Workspace: root}, map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		t.Fatal("want rejection for escaping path")
	}
}

func TestWorkspaceListFilesReportsEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	listTool := WorkspaceListFilesTool{}
	out, err := listTool.Call(context.Background(), Context{Workspace: root}, map[string]any{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if out["workspaceRefs"] == nil {
		t.Fatal("want workspaceRefs synthesized")
	}
	if out["path"] != "." {
		t.Fatalf("want default path \".\", got %#v", out["path"])
	}
}

func TestDecodeDuckDuckGoURL(t *testing.T) {
	redirect := "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&rut=1"
	if got := decodeDuckDuckGoURL(redirect); got != "https://example.com/page" {
		t.Fatalf("want decoded uddg target, got %q", got)
	}
	if got := decodeDuckDuckGoURL("https://example.com/direct"); got != "https://example.com/direct" {
		t.Fatalf("want passthrough for non-redirect link, got %q", got)
	}
}

func TestParseDuckDuckGoLiteExtractsResults(t *testing.T) {
	body := `<html><body><table>
<tr><td><a class="result-link" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa">Example A</a></td></tr>
<tr><td class="result-snippet">First snippet</td></tr>
<tr><td><span class="link-text">example.com/a</span></td></tr>
</table></body></html>`
	results, warnings := parseDuckDuckGoLite(body, 5)
	if len(results) != 1 {
		t.Fatalf("want 1 result, got %d (warnings=%v)", len(results), warnings)
	}
	if results[0].URL != "https://example.com/a" || results[0].Title != "Example A" {
		t.Fatalf("want decoded url and title, got %#v", results[0])
	}
}
