package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

func TestNewRootCommandIncludesSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"run", "stream", "cancel", "list"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := loadConfig(); err == nil {
		t.Fatal("want an error when OPENAI_API_KEY is unset")
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WORKFLOW_RUN_MODEL", "")
	t.Setenv("WORKFLOW_MODEL", "")
	t.Setenv("WORKFLOW_NODE_MAX_STEPS", "")
	t.Setenv("WORKFLOW_RUN_ARTIFACTS_DIR", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Model != defaultModel {
		t.Fatalf("want default model %q, got %q", defaultModel, cfg.Model)
	}
	if cfg.NodeMaxSteps != defaultNodeMaxSteps {
		t.Fatalf("want default max steps %d, got %d", defaultNodeMaxSteps, cfg.NodeMaxSteps)
	}
}

func TestLoadConfigRejectsOutOfRangeMaxSteps(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WORKFLOW_NODE_MAX_STEPS", "0")
	if _, err := loadConfig(); err == nil {
		t.Fatal("want an error for WORKFLOW_NODE_MAX_STEPS=0")
	}
}

// TestRunCommandEndToEnd exercises the full stack - config, registry, mock
// client - against the bundled sample template, without any network access.
func TestRunCommandEndToEnd(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WORKFLOW_RUN_ARTIFACTS_DIR", t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	tmpl, err := loadTemplate(filepath.Join("testdata", "sample-template.yaml"))
	if err != nil {
		t.Fatalf("loadTemplate: %v", err)
	}

	reg := buildRegistry(cfg)
	run, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{
		Template: tmpl,
		Inputs:   map[string]any{"topic": "idiomatic Go error handling"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w, err := os.CreateTemp(t.TempDir(), "stream-out")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer w.Close()

	if err := streamRun(context.Background(), reg, run.ID, w); err != nil {
		t.Fatalf("streamRun: %v", err)
	}

	final, err := reg.Get(run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != wfgraph.RunSuccess {
		t.Fatalf("want run success, got %s (error=%q)", final.Status, final.Error)
	}
	if final.Outputs == nil || final.Outputs.Summary == "" {
		t.Fatal("want non-empty run outputs")
	}
}
