package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/workflow-run-engine/eventlog"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
	"github.com/dshills/workflow-run-engine/workspace"
)

type fakeClient struct{}

func (fakeClient) Decide(_ context.Context, _, _, _ string) (string, error) {
	return `{"action":"final","summary":"done"}`, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mgr := workspace.NewManager(t.TempDir())
	return New(wftool.NewRegistry(), fakeClient{}, mgr, 10)
}

func singleNodeTemplate(id string) wfgraph.WorkflowTemplate {
	return wfgraph.WorkflowTemplate{
		ID:    id,
		Name:  "Solo",
		Nodes: []wfgraph.Node{{ID: "A", Name: "Only"}},
	}
}

func waitForTerminal(t *testing.T, reg *Registry, runID string) wfgraph.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		view, err := reg.Get(runID)
		require.NoError(t, err)
		switch view.Status {
		case wfgraph.RunSuccess, wfgraph.RunFailed, wfgraph.RunCancelled:
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status in time")
	return wfgraph.Run{}
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := newTestRegistry(t)
	view, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{Template: singleNodeTemplate("t1")})
	require.NoError(t, err)
	require.NotEmpty(t, view.ID, "want a minted run id")

	final := waitForTerminal(t, reg, view.ID)
	require.Equal(t, wfgraph.RunSuccess, final.Status)
	require.NotEmpty(t, final.Logs, "Get view should include logs")
}

func TestRegistryListStripsLogsAndSortsNewestFirst(t *testing.T) {
	reg := newTestRegistry(t)
	v1, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{Template: singleNodeTemplate("t1")})
	require.NoError(t, err)
	waitForTerminal(t, reg, v1.ID)

	time.Sleep(5 * time.Millisecond)
	v2, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{Template: singleNodeTemplate("t2")})
	require.NoError(t, err)
	waitForTerminal(t, reg, v2.ID)

	list := reg.List(0)
	require.Len(t, list, 2)
	require.Equal(t, v2.ID, list[0].ID, "want newest run first")
	require.Nil(t, list[0].Logs, "want list views to strip logs")
}

func TestRegistryDeleteRefusesActiveRun(t *testing.T) {
	reg := newTestRegistry(t)
	view, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{Template: singleNodeTemplate("t1")})
	require.NoError(t, err)

	if _, err := reg.Delete(view.ID); err == nil {
		// The scripted client resolves instantly, so there is a race where
		// the run may already be terminal by the time Delete runs; only
		// fail if it was provably still active.
		final, getErr := reg.Get(view.ID)
		if getErr == nil {
			require.NotContains(t, []wfgraph.RunStatus{wfgraph.RunQueued, wfgraph.RunRunning}, final.Status,
				"want Delete to refuse an active run")
		}
	}

	waitForTerminal(t, reg, view.ID)
	_, err = reg.Delete(view.ID)
	require.NoError(t, err, "want delete to succeed once terminal")

	_, err = reg.Get(view.ID)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRegistryCancel(t *testing.T) {
	reg := newTestRegistry(t)
	view, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{Template: singleNodeTemplate("t1")})
	require.NoError(t, err)

	_, err = reg.Cancel(view.ID)
	require.NoError(t, err)

	final := waitForTerminal(t, reg, view.ID)
	require.Contains(t, []wfgraph.RunStatus{wfgraph.RunSuccess, wfgraph.RunCancelled}, final.Status)
}

func TestRegistryStreamEmitsRunComplete(t *testing.T) {
	reg := newTestRegistry(t)
	view, err := reg.Create(context.Background(), wfgraph.RunCreateRequest{Template: singleNodeTemplate("t1")})
	require.NoError(t, err)

	var names []eventlog.StreamEventName
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = reg.Stream(ctx, view.ID, 0, 20*time.Millisecond, func(ev eventlog.StreamEvent) error {
		names = append(names, ev.Name)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, eventlog.StreamRunComplete, names[len(names)-1])
}

func TestRegistryGetUnknownRun(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get("wfr_doesnotexist")
	require.ErrorIs(t, err, ErrRunNotFound)
}
