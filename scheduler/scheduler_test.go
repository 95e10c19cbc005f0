package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/workflow-run-engine/agentloop"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
	"github.com/dshills/workflow-run-engine/workspace"
)

// scriptedClient returns canned replies from one flat queue in call order,
// shared across all nodes, and a fallback final reply once the queue is
// used up; each test only needs a handful of turns.
type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	calls   int
	delay   time.Duration
}

func (c *scriptedClient) Decide(ctx context.Context, _, _, _ string) (string, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls >= len(c.replies) {
		return `{"action":"final","summary":"fallback"}`, nil
	}
	r := c.replies[c.calls]
	c.calls++
	return r, nil
}

func linearTemplate() wfgraph.WorkflowTemplate {
	return wfgraph.WorkflowTemplate{
		ID:   "t1",
		Name: "Linear",
		Nodes: []wfgraph.Node{
			{ID: "A", Name: "Writer"},
			{ID: "B", Name: "Reviewer"},
		},
		Edges: []wfgraph.Edge{
			{
				Source: "A", Target: "B", Handoff: "brief",
				Contract: &wfgraph.HandoffContract{
					PacketType: "brief",
					Fields: []wfgraph.HandoffField{
						{TargetKey: "summary", SourcePath: "summary", Type: wfgraph.FieldString, Required: true},
					},
				},
			},
		},
	}
}

func newTestScheduler(t *testing.T, tmpl wfgraph.WorkflowTemplate, requested []string, client agentloop.AgentDecisionClient) (*Scheduler, *wfgraph.Run, workspace.Layout) {
	t.Helper()
	run, err := wfgraph.BuildRun(wfgraph.RunCreateRequest{
		Template: tmpl, Inputs: map[string]any{}, RequestedDeliverables: requested,
	}, time.Now())
	require.NoError(t, err)

	mgr := workspace.NewManager(t.TempDir())
	layout, err := mgr.CreateLayout(run.ID)
	require.NoError(t, err)

	sched := New(run, wftool.NewRegistry(), client, 5, mgr, layout, time.Now, nil)
	return sched, run, layout
}

func TestSchedulerLinearRunSucceeds(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"action":"final","summary":"Draft complete."}`,
		`{"action":"final","summary":"Reviewed and approved.","data":{"final_markdown":"# Done"}}`,
	}}
	sched, run, layout := newTestScheduler(t, linearTemplate(), []string{"report.md"}, client)

	sched.Execute(context.Background())

	require.Equal(t, wfgraph.RunSuccess, run.Status, "run.Error=%s", run.Error)

	pkt := run.Meta.HandoffPackets["A->B"]
	require.NotNil(t, pkt, "want a handoff packet for A->B")
	require.Equal(t, "Draft complete.", pkt.Payload["summary"])

	names := map[string]bool{}
	for _, d := range run.Deliverables {
		names[d.Name] = true
	}
	require.True(t, names["final-output.md"], "want final-output.md deliverable, got %#v", run.Deliverables)
	require.True(t, names["report.md"], "want report.md deliverable, got %#v", run.Deliverables)

	_, err := os.Stat(layout.ManifestPath)
	require.NoError(t, err, "want manifest.json written")
}

func TestSchedulerCancelMidFlightEndsCancelled(t *testing.T) {
	template := wfgraph.WorkflowTemplate{
		ID:   "t2",
		Name: "Three-step",
		Nodes: []wfgraph.Node{
			{ID: "A", Name: "First"},
			{ID: "B", Name: "Second"},
			{ID: "C", Name: "Third"},
		},
		Edges: []wfgraph.Edge{
			{Source: "A", Target: "B", Handoff: "h1"},
			{Source: "B", Target: "C", Handoff: "h2"},
		},
	}
	client := &scriptedClient{
		delay: 30 * time.Millisecond,
		replies: []string{
			`{"action":"final","summary":"a done"}`,
			`{"action":"final","summary":"b done"}`,
			`{"action":"final","summary":"c done"}`,
		},
	}
	sched, run, layout := newTestScheduler(t, template, nil, client)

	done := make(chan struct{})
	go func() {
		sched.Execute(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	sched.RequestCancel()
	<-done

	require.Equal(t, wfgraph.RunCancelled, run.Status)
	for _, nr := range run.NodeRuns {
		require.Containsf(t, []wfgraph.NodeStatus{wfgraph.NodeCancelled, wfgraph.NodeSuccess}, nr.Status,
			"node %s: want cancelled or success, got %s", nr.NodeID, nr.Status)
	}

	_, err := os.Stat(layout.Workspace)
	require.NoError(t, err, "want workspace to remain on disk")

	_, err = os.Stat(layout.ManifestPath)
	require.Error(t, err, "want no manifest.json for a cancelled run")
}

func TestSchedulerCodeBundleValidationFailsAfterRetries(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"action":"final","summary":"shipping","data":{"deliverables":{"app.zip":"not a bundle"}}}`,
		`{"action":"final","summary":"still wrong","data":{"deliverables":{"app.zip":"not a bundle"}}}`,
	}}
	tmpl := wfgraph.WorkflowTemplate{
		ID:   "t3",
		Name: "Single sink",
		Nodes: []wfgraph.Node{{ID: "A", Name: "Builder"}},
	}
	sched, run, _ := newTestScheduler(t, tmpl, []string{"app.zip"}, client)
	sched.deps.MaxSteps = 2

	sched.Execute(context.Background())

	require.Equal(t, wfgraph.RunFailed, run.Status)
	require.Contains(t, run.Error, "missing required code bundle deliverables")
}

func TestSchedulerPersistsCodeBundleDirectoryDeliverable(t *testing.T) {
	reply := `{"action":"final","summary":"shipped","data":{"deliverables":{"app":{"kind":"code_bundle","files":{"src/main.go":"package main\n","README.md":"ok"}}}}}`
	client := &scriptedClient{replies: []string{reply}}
	tmpl := wfgraph.WorkflowTemplate{
		ID:   "t4",
		Name: "Bundle sink",
		Nodes: []wfgraph.Node{{ID: "A", Name: "Builder"}},
	}
	sched, run, layout := newTestScheduler(t, tmpl, []string{"app"}, client)

	sched.Execute(context.Background())

	require.Equal(t, wfgraph.RunSuccess, run.Status, "run.Error=%s", run.Error)

	var appDeliverable *wfgraph.Deliverable
	for i := range run.Deliverables {
		if run.Deliverables[i].Name == "app" {
			appDeliverable = &run.Deliverables[i]
		}
	}
	require.NotNil(t, appDeliverable, "want an 'app' deliverable")
	require.Equal(t, "directory", appDeliverable.ArtifactKind)
	require.Equal(t, 2, appDeliverable.FileCount)

	mainGo := filepath.Join(layout.Deliverables, "app", "src", "main.go")
	data, err := os.ReadFile(mainGo)
	require.NoError(t, err, "want src/main.go on disk")
	require.Equal(t, "package main\n", string(data))
}
