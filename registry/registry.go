// Package registry implements the process-wide run registry (spec.md
// §4.8, component C8): a single map from runId to Run, guarded by one
// mutex, that admits new runs, spawns their scheduler worker, and answers
// list/get/cancel/delete/stream requests with views that never leak
// internal scheduling state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/workflow-run-engine/agentloop"
	"github.com/dshills/workflow-run-engine/eventlog"
	"github.com/dshills/workflow-run-engine/scheduler"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
	"github.com/dshills/workflow-run-engine/workspace"
)

// MaxListLimit bounds Registry.List's limit parameter (spec.md §4.8).
const MaxListLimit = 500

// ErrRunNotFound is returned by Get/Cancel/Delete/Stream for an unknown run id.
var ErrRunNotFound = errors.New("registry: run not found")

// ErrRunActive is returned by Delete when the run has not reached a terminal status.
var ErrRunActive = errors.New("registry: run is still active")

// entry wraps the scheduler worker driving one run. The run's record itself
// is never read directly here: every external-facing read goes through
// sched's locked accessors (View, Snapshot) since the scheduler may still be
// concurrently writing to it (spec.md §5).
type entry struct {
	sched *scheduler.Scheduler
}

// Registry is the process-wide runId -> Run map. mu guards only the map and
// its insertion order; each Run record is guarded by the mutex of the
// scheduler worker that owns it.
type Registry struct {
	mu       sync.Mutex
	runs     map[string]*entry
	order    []string // insertion order, for stable iteration
	tools    *wftool.Registry
	client   agentloop.AgentDecisionClient
	wsMgr    *workspace.Manager
	maxSteps int
	now      func() time.Time
	metrics  *scheduler.Metrics
}

// WithMetrics attaches a Metrics collector shared across every scheduler
// this Registry spawns, returning r for chaining.
func (r *Registry) WithMetrics(m *scheduler.Metrics) *Registry {
	r.metrics = m
	return r
}

// New builds a Registry wired to tools and client, materializing per-run
// workspaces under wsMgr's runs root.
func New(tools *wftool.Registry, client agentloop.AgentDecisionClient, wsMgr *workspace.Manager, maxSteps int) *Registry {
	return &Registry{
		runs:     make(map[string]*entry),
		tools:    tools,
		client:   client,
		wsMgr:    wsMgr,
		maxSteps: maxSteps,
		now:      time.Now,
	}
}

// Create validates req.Template, builds the Run record and its on-disk
// workspace, spawns the scheduler worker in its own goroutine, and returns
// the full run view (spec.md §4.8 create()).
func (r *Registry) Create(ctx context.Context, req wfgraph.RunCreateRequest) (wfgraph.Run, error) {
	run, err := wfgraph.BuildRun(req, r.now())
	if err != nil {
		return wfgraph.Run{}, fmt.Errorf("registry: %w", err)
	}

	layout, err := r.wsMgr.CreateLayout(run.ID)
	if err != nil {
		return wfgraph.Run{}, fmt.Errorf("registry: prepare workspace: %w", err)
	}
	run.WorkspaceDirectory = layout.Workspace

	if err := r.wsMgr.WriteRunInputs(layout, run.Inputs); err != nil {
		return wfgraph.Run{}, fmt.Errorf("registry: write run inputs: %w", err)
	}
	if err := r.wsMgr.WriteRunContext(layout, map[string]any{
		"runId": run.ID, "workflowId": run.WorkflowID, "workflowName": run.WorkflowName,
		"createdAt": run.CreatedAt,
	}); err != nil {
		return wfgraph.Run{}, fmt.Errorf("registry: write run context: %w", err)
	}

	sched := scheduler.New(run, r.tools, r.client, r.maxSteps, r.wsMgr, layout, r.now, nil)
	if r.metrics != nil {
		sched.WithMetrics(r.metrics)
	}

	r.mu.Lock()
	r.runs[run.ID] = &entry{sched: sched}
	r.order = append(r.order, run.ID)
	r.mu.Unlock()

	go sched.Execute(ctx)

	// Execute may already be running by the time this line runs, so the
	// view must come from the scheduler's locked accessor, not a direct
	// read of run (spec.md §5: all reads/writes of Run fields go through
	// the scheduler's mutex).
	return sched.View(true), nil
}

// List returns up to min(limit, MaxListLimit) run views sorted by
// startedAt then createdAt, newest first, with logs and _meta stripped
// (spec.md §4.8 list()).
func (r *Registry) List(limit int) []wfgraph.Run {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.runs))
	for _, e := range r.runs {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	// Each View() call takes its own scheduler's mutex; the resulting
	// views are plain copies, so sorting and slicing them afterward reads
	// no field the scheduler could still be mutating concurrently.
	views := make([]wfgraph.Run, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.sched.View(false))
	}

	sort.Slice(views, func(i, j int) bool {
		return runSortKey(&views[i]).After(runSortKey(&views[j]))
	})
	if len(views) > limit {
		views = views[:limit]
	}
	return views
}

func runSortKey(r *wfgraph.Run) time.Time {
	if r.StartedAt != nil {
		return *r.StartedAt
	}
	return r.CreatedAt
}

// Get returns the full view (including logs) for runID, or ErrRunNotFound.
func (r *Registry) Get(runID string) (wfgraph.Run, error) {
	e, err := r.find(runID)
	if err != nil {
		return wfgraph.Run{}, err
	}
	return e.sched.View(true), nil
}

// Cancel requests cancellation of runID's scheduler and returns the current
// view. Cancellation is cooperative: the scheduler observes the flag at its
// next mutex acquisition (spec.md §5).
func (r *Registry) Cancel(runID string) (wfgraph.Run, error) {
	e, err := r.find(runID)
	if err != nil {
		return wfgraph.Run{}, err
	}
	e.sched.RequestCancel()
	return e.sched.View(true), nil
}

// Delete removes runID from the registry and returns its stripped view,
// refusing when the run has not reached a terminal status (spec.md §4.8
// delete()). The status check reads through the scheduler's locked View,
// since the scheduler may still be writing to the Run.
func (r *Registry) Delete(runID string) (wfgraph.Run, error) {
	r.mu.Lock()
	e, ok := r.runs[runID]
	r.mu.Unlock()
	if !ok {
		return wfgraph.Run{}, ErrRunNotFound
	}

	view := e.sched.View(false)
	switch view.Status {
	case wfgraph.RunQueued, wfgraph.RunRunning:
		return wfgraph.Run{}, ErrRunActive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
	for i, id := range r.order {
		if id == runID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return view, nil
}

func (r *Registry) find(runID string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return e, nil
}

// Stream polls runID's scheduler at pollInterval and forwards events to the
// eventlog streaming protocol (C5), returning when the run reaches a
// terminal status plus two consecutive empty polls, ctx is cancelled, or
// runID is unknown.
func (r *Registry) Stream(ctx context.Context, runID string, lastSeq int64, pollInterval time.Duration, sink eventlog.Sink) error {
	e, err := r.find(runID)
	if err != nil {
		return err
	}
	provider := func() (eventlog.Snapshot, bool) {
		return e.sched.Snapshot(), true
	}
	return eventlog.Stream(ctx, lastSeq, pollInterval, provider, sink)
}
