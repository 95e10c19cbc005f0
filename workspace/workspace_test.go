package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"report.md":        "report.md",
		"../../etc/passwd": "etc_passwd",
		"  .leading":       "leading",
		"":                 "fallback",
		"a/b c*d":          "a_b_c_d",
	}
	for in, want := range cases {
		if got := SanitizeName(in, "fallback"); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateLayoutBuildsExpectedTree(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)

	l, err := mgr.CreateLayout("wfr_abc123")
	if err != nil {
		t.Fatalf("CreateLayout: %v", err)
	}

	for _, dir := range []string{l.AgentScripts, l.UserUploads, l.Inputs, l.Deliverables} {
		info, statErr := os.Stat(dir)
		if statErr != nil || !info.IsDir() {
			t.Fatalf("want directory at %s, err=%v", dir, statErr)
		}
	}
}

func TestMaterializeUploadsTextAndDataURL(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	l, err := mgr.CreateLayout("wfr_up")
	if err != nil {
		t.Fatal(err)
	}

	inputs := map[string]any{
		"report": map[string]any{
			"name": "report.txt", "kind": "text", "content": "hello upload",
		},
		"image": map[string]any{
			"name": "pixel.bin", "kind": "data_url", "content": "data:application/octet-stream;base64,aGVsbG8=",
		},
	}

	files, err := mgr.MaterializeUploads(l.UserUploads, inputs)
	if err != nil {
		t.Fatalf("MaterializeUploads: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("want 2 materialized files, got %d", len(files))
	}
	for _, f := range files {
		if _, statErr := os.Stat(f.Path); statErr != nil {
			t.Fatalf("want file on disk at %s: %v", f.Path, statErr)
		}
	}
}

func TestMaterializeUploadsDedupesCollidingNames(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	l, err := mgr.CreateLayout("wfr_dup")
	if err != nil {
		t.Fatal(err)
	}

	inputs := map[string]any{
		"a": map[string]any{"name": "same.txt", "kind": "text", "content": "one"},
		"b": map[string]any{"name": "same.txt", "kind": "text", "content": "two"},
	}
	files, err := mgr.MaterializeUploads(l.UserUploads, inputs)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range files {
		if names[f.Name] {
			t.Fatalf("want unique names, got duplicate %q", f.Name)
		}
		names[f.Name] = true
	}
}

func TestWriteDeliverablesWritesManifest(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	l, err := mgr.CreateLayout("wfr_out")
	if err != nil {
		t.Fatal(err)
	}

	specs := []DeliverableSpec{
		{Name: "final-output.md", ArtifactKind: "file", Content: []byte("# Done\n")},
	}
	manifest, err := mgr.WriteDeliverables(l, "wfr_out", "wf1", "My Workflow", specs, time.Now())
	if err != nil {
		t.Fatalf("WriteDeliverables: %v", err)
	}
	if len(manifest.Deliverables) != 1 {
		t.Fatalf("want 1 deliverable in manifest, got %d", len(manifest.Deliverables))
	}
	if _, statErr := os.Stat(filepath.Join(l.Deliverables, "final-output.md")); statErr != nil {
		t.Fatalf("want deliverable file on disk: %v", statErr)
	}
	if _, statErr := os.Stat(l.ManifestPath); statErr != nil {
		t.Fatalf("want manifest.json on disk: %v", statErr)
	}
}
