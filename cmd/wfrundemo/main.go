// Command wfrundemo drives the workflow run engine end to end from the
// command line: load a WorkflowTemplate (JSON or YAML), submit it to an
// in-process registry.Registry, and stream or poll its progress.
//
// It wires a demo-only AgentDecisionClient (see mockclient.go); no
// real LLM vendor SDK is linked in, matching the engine's own boundary
// at agentloop.AgentDecisionClient.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/workflow-run-engine/eventlog"
	"github.com/dshills/workflow-run-engine/registry"
	"github.com/dshills/workflow-run-engine/scheduler"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
	"github.com/dshills/workflow-run-engine/workspace"
)

// promRegistry collects every run's scheduler.Metrics for the process
// lifetime, independent of which subcommand or run created them.
var promRegistry = prometheus.NewRegistry()

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var metricsAddr string
	root := &cobra.Command{
		Use:   "wfrundemo",
		Short: "Run DAG-based LLM workflow templates against the workflow run engine",
		Long: "wfrundemo runs DAG-based LLM workflow templates against the workflow run engine.\n" +
			"Runs live only in the invoking process's memory (no persistence across restarts, per design), " +
			"so 'stream'/'cancel' only see what 'run' created in the same invocation; use 'run --follow' " +
			"to submit and watch a run in one command.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if metricsAddr == "" {
				return nil
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
			go func() {
				_ = http.ListenAndServe(metricsAddr, mux)
			}()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address (e.g. :9090); disabled when empty")
	root.AddCommand(newRunCommand())
	root.AddCommand(newStreamCommand())
	root.AddCommand(newCancelCommand())
	root.AddCommand(newListCommand())
	return root
}

// newLogger builds the process's single package-level slog logger from
// WORKFLOW_LOG_LEVEL, matching tombee-conductor's internal/log convention
// of one logger configured from environment rather than a flag.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// buildRegistry wires a fresh registry.Registry from environment config: a
// tool catalog exercising every wftool implementation, a workspace manager
// rooted at cfg.ArtifactsDir, and the demo AgentDecisionClient.
func buildRegistry(cfg config) *registry.Registry {
	tools := wftool.NewRegistry(
		wftool.NewWebSearchTool(2),
		wftool.NewSandboxExecTool(cfg.ArtifactsDir),
		wftool.WorkspaceListFilesTool{},
		wftool.WorkspaceReadFileTool{},
		wftool.WorkspaceWriteFileTool{},
		wftool.WorkspaceExecTool{},
	)
	wsMgr := workspace.NewManager(cfg.ArtifactsDir)
	reg := registry.New(tools, newMockClient(cfg.Model), wsMgr, cfg.NodeMaxSteps)
	return reg.WithMetrics(scheduler.NewMetrics(promRegistry))
}

func loadTemplate(path string) (wfgraph.WorkflowTemplate, error) {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return wfgraph.LoadTemplateYAML(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return wfgraph.WorkflowTemplate{}, fmt.Errorf("read template %s: %w", path, err)
	}
	var tmpl wfgraph.WorkflowTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return wfgraph.WorkflowTemplate{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	if _, err := wfgraph.ValidateTemplate(tmpl); err != nil {
		return wfgraph.WorkflowTemplate{}, fmt.Errorf("invalid template %s: %w", path, err)
	}
	return tmpl, nil
}

func newRunCommand() *cobra.Command {
	var (
		inputsPath   string
		deliverables []string
		follow       bool
	)
	cmd := &cobra.Command{
		Use:   "run <template>",
		Short: "Submit a workflow template and create a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			tmpl, err := loadTemplate(args[0])
			if err != nil {
				return err
			}

			inputs := map[string]any{}
			if inputsPath != "" {
				raw, err := os.ReadFile(inputsPath)
				if err != nil {
					return fmt.Errorf("read inputs %s: %w", inputsPath, err)
				}
				if err := json.Unmarshal(raw, &inputs); err != nil {
					return fmt.Errorf("parse inputs %s: %w", inputsPath, err)
				}
			}

			reg := buildRegistry(cfg)
			run, err := reg.Create(cmd.Context(), wfgraph.RunCreateRequest{
				Template:              tmpl,
				Inputs:                inputs,
				RequestedDeliverables: deliverables,
			})
			if err != nil {
				return fmt.Errorf("create run: %w", err)
			}
			log.Info("run created", "run_id", run.ID, "workflow", run.WorkflowName, "nodes", run.Progress.Total)
			fmt.Println(run.ID)

			if !follow {
				return nil
			}
			return streamRun(cmd.Context(), reg, run.ID, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&inputsPath, "inputs", "", "path to a JSON file of run inputs")
	cmd.Flags().StringSliceVar(&deliverables, "deliverable", nil, "requested deliverable name (repeatable)")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream run events until completion")
	return cmd
}

func newStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <run-id>",
		Short: "Stream a run's events until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := buildRegistry(cfg)
			return streamRun(cmd.Context(), reg, args[0], os.Stdout)
		},
	}
	return cmd
}

func newCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := buildRegistry(cfg)
			run, err := reg.Cancel(args[0])
			if err != nil {
				return fmt.Errorf("cancel run: %w", err)
			}
			fmt.Printf("cancellation requested for %s (status=%s)\n", run.ID, run.Status)
			return nil
		},
	}
	return cmd
}

func newListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg := buildRegistry(cfg)
			for _, run := range reg.List(limit) {
				fmt.Printf("%s\t%s\t%s\t%d/%d nodes\n", run.ID, run.Status, run.WorkflowName, run.Progress.Completed, run.Progress.Total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs to list")
	return cmd
}

// streamRun is a demo-grade eventlog.Sink: it renders each stream event as a
// line of text. A real frontend would instead forward StreamEvent values
// over SSE (see eventlog.Stream's doc comment); the wiring is identical,
// only the sink differs.
func streamRun(ctx context.Context, reg *registry.Registry, runID string, out *os.File) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	sink := func(ev eventlog.StreamEvent) error {
		switch ev.Name {
		case eventlog.StreamLog:
			e, _ := ev.Data.(wfgraph.Event)
			fmt.Fprintf(out, "[%s] %s/%s %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Category, e.NodeID, e.Title, e.Message)
		case eventlog.StreamState:
			s, _ := ev.Data.(eventlog.StateData)
			fmt.Fprintf(out, "  state: %s active=%s\n", s.Status, s.ActiveNodeID)
		case eventlog.StreamRunComplete:
			fmt.Fprintln(out, "run complete")
		}
		return nil
	}
	return reg.Stream(ctx, runID, 0, eventlog.DefaultPollInterval, sink)
}
