// Package scheduler implements the run scheduler (spec.md §4.7, component
// C7): one worker per run, advancing nodes in topological order, brokering
// handoffs, and finalizing success, cancellation, or failure.
//
// It follows the snapshot pattern spec.md §9 recommends for Go: a single
// mutex guards the run's mutable record, and every long-latency operation
// (the agent decision loop) runs with the mutex released against an
// immutable snapshot built just before release.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/workflow-run-engine/agentloop"
	"github.com/dshills/workflow-run-engine/eventlog"
	"github.com/dshills/workflow-run-engine/handoff"
	"github.com/dshills/workflow-run-engine/sanitize"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
	"github.com/dshills/workflow-run-engine/workspace"
)

// LiveLogFunc is invoked once per trace event as it happens, so a caller can
// observe turns in near-real-time. It may be nil; the registry passes nil.
type LiveLogFunc func(runID string, ev wfgraph.Event)

// Scheduler drives exactly one Run from queued to a terminal status.
type Scheduler struct {
	mu   sync.Mutex
	run  *wfgraph.Run
	log  *eventlog.Log
	now  func() time.Time
	deps agentloop.Dependencies

	layout    workspace.Layout
	workspace *workspace.Manager

	liveLog LiveLogFunc
	metrics *Metrics
}

// New builds a Scheduler for run, wired to tools, an AgentDecisionClient,
// and the run's on-disk workspace layout. metrics may be nil, in which case
// metric recording is a no-op.
func New(run *wfgraph.Run, tools *wftool.Registry, client agentloop.AgentDecisionClient, maxSteps int, mgr *workspace.Manager, layout workspace.Layout, now func() time.Time, liveLog LiveLogFunc) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		run: run,
		log: eventlog.New(),
		now: now,
		deps: agentloop.Dependencies{
			Client:   client,
			Tools:    tools,
			MaxSteps: maxSteps,
			Now:      now,
		},
		layout:    layout,
		workspace: mgr,
		liveLog:   liveLog,
	}
}

// WithMetrics attaches a Metrics collector, returning s for chaining. It
// also wires m into the agent decision loop's dependencies so tool-call and
// repetition-control counters are recorded, not just scheduler-level ones.
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	s.deps.Metrics = m
	return s
}

// Execute runs the scheduler to completion: success, cancellation, or
// failure. It is meant to be called once, from a single goroutine per run
// (the registry spawns it at create time).
func (s *Scheduler) Execute(ctx context.Context) {
	s.mu.Lock()
	if s.run.Status != wfgraph.RunQueued {
		s.mu.Unlock()
		return
	}
	t0 := s.now()
	s.run.Status = wfgraph.RunRunning
	s.run.StartedAt = &t0
	s.metrics.runStarted()
	s.appendLogLocked(wfgraph.EventLifecycle, "Run started", s.run.WorkflowName, "", nil, t0)
	s.appendLogLocked(wfgraph.EventInput, "Run workspace ready", s.layout.Workspace, "", nil, t0)
	order := append([]string(nil), s.run.Meta.Order...)
	s.mu.Unlock()

	for _, nodeID := range order {
		if s.runOneNode(ctx, nodeID) {
			return // cancelled or failed; runOneNode already finalized
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.CancelRequested {
		s.finalizeCancelledLocked(s.now())
		return
	}
	s.finalizeSuccessLocked(s.now())
}

// runOneNode executes a single node end-to-end, returning true if the run
// ended (cancelled or failed) and the caller should stop iterating.
func (s *Scheduler) runOneNode(ctx context.Context, nodeID string) bool {
	s.mu.Lock()
	if s.run.CancelRequested {
		s.finalizeCancelledLocked(s.now())
		s.mu.Unlock()
		return true
	}

	node := s.run.Meta.NodeMap[nodeID]
	nr := s.run.FindNodeRun(nodeID)
	t1 := s.now()
	nr.Status = wfgraph.NodeRunning
	nr.StartedAt = &t1
	s.run.ActiveNodeID = nodeID
	s.appendLogLocked(wfgraph.EventLifecycle, "Agent running", node.Name, nodeID, nil, t1)

	upstream := s.gatherUpstreamInputsLocked(node)
	s.appendLogLocked(wfgraph.EventInput, "Agent inputs prepared", fmt.Sprintf("%d upstream input(s)", len(upstream)), nodeID, upstreamInputsLogPayload(upstream), s.now())

	isSink := len(s.run.Meta.OutgoingEdges[nodeID]) == 0
	nc := agentloop.NodeContext{
		RunID:                 s.run.ID,
		Workflow:              s.run.WorkflowSnapshot,
		Node:                  node,
		IsSink:                isSink,
		RunInputs:             s.run.Inputs,
		UpstreamInputs:        upstream,
		RequestedDeliverables: s.run.RequestedDeliverables,
		ToolCatalog:           s.deps.Tools.ListTools(),
		WorkspaceRoot:         s.layout.Workspace,
	}
	s.mu.Unlock()

	emit := func(category wfgraph.EventCategory, title, message string, payload any) wfgraph.Event {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.appendLogLocked(category, title, message, nodeID, payload, s.now())
	}

	output, _, err := agentloop.RunNode(ctx, s.deps, nc, emit)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run.CancelRequested {
		s.finalizeCancelledLocked(s.now())
		return true
	}
	if err != nil {
		s.failRunLocked(nodeID, err, s.now())
		return true
	}

	s.run.Meta.NodeOutputs[nodeID] = &output
	nr.Output = &output
	nr.OutputSummary = output.Summary

	for _, edge := range s.run.Meta.OutgoingEdges[nodeID] {
		pkt := handoff.BuildPacket(edge, output, node, s.run.Meta.NodeMap[edge.Target], s.now())
		s.run.Meta.HandoffPackets[edge.Source+"->"+edge.Target] = &pkt
		s.appendLogLocked(wfgraph.EventHandoff, "Handoff emitted", pkt.Summary, edge.Source, pkt, s.now())
	}

	t2 := s.now()
	nr.Status = wfgraph.NodeSuccess
	nr.FinishedAt = &t2
	dur := t2.Sub(*nr.StartedAt)
	durMs := dur.Seconds() * 1000
	nr.DurationMs = &durMs
	s.run.Progress.Completed++
	s.metrics.nodeCompleted(nodeID, "success", dur)
	return false
}

// gatherUpstreamInputsLocked builds the UpstreamInput list for node: for
// each incoming edge, the cached packet (or one built on demand) plus the
// raw source output.
func (s *Scheduler) gatherUpstreamInputsLocked(node wfgraph.Node) []wfgraph.UpstreamInput {
	edges := s.run.Meta.IncomingEdges[node.ID]
	out := make([]wfgraph.UpstreamInput, 0, len(edges))
	for _, edge := range edges {
		key := edge.Source + "->" + edge.Target
		pkt := s.run.Meta.HandoffPackets[key]
		output := s.run.Meta.NodeOutputs[edge.Source]

		if pkt == nil && output != nil {
			sourceNode := s.run.Meta.NodeMap[edge.Source]
			built := handoff.BuildPacket(edge, *output, sourceNode, node, s.now())
			s.run.Meta.HandoffPackets[key] = &built
			pkt = &built
		}

		var outputSummary string
		if output != nil {
			outputSummary = output.Summary
		}
		var packetSummary string
		if pkt != nil {
			packetSummary = pkt.Summary
		}

		out = append(out, wfgraph.UpstreamInput{
			FromNodeID:    edge.Source,
			FromNodeName:  s.run.Meta.NodeMap[edge.Source].Name,
			Handoff:       edge.Handoff,
			Contract:      handoff.NormalizeContract(edge),
			PacketSummary: packetSummary,
			Packet:        pkt,
			OutputSummary: outputSummary,
			Output:        output,
		})
	}
	return out
}

func upstreamInputsLogPayload(upstream []wfgraph.UpstreamInput) map[string]any {
	types := make([]string, 0, len(upstream))
	var missing []string
	for _, u := range upstream {
		if u.Packet != nil {
			types = append(types, u.Packet.PacketType)
			missing = append(missing, u.Packet.MissingRequiredFields...)
		}
	}
	return sanitize.DeepTruncate(map[string]any{
		"count":                 len(upstream),
		"packetTypes":           types,
		"missingRequiredFields": missing,
	}, sanitize.Default()).(map[string]any)
}

// appendLogLocked must be called with s.mu held. It stamps the event via
// the event log, appends it to the run's top-level log and, when nodeID is
// set, to that node-run's own log, then notifies the live-log callback.
func (s *Scheduler) appendLogLocked(category wfgraph.EventCategory, title, message, nodeID string, payload any, now time.Time) wfgraph.Event {
	ev := s.log.Append(category, title, message, nodeID, payload, now)
	s.run.Logs = append(s.run.Logs, ev)
	if nodeID != "" {
		if nr := s.run.FindNodeRun(nodeID); nr != nil {
			nr.Logs = append(nr.Logs, ev)
		}
	}
	if s.liveLog != nil {
		s.liveLog(s.run.ID, ev)
	}
	return ev
}

// Snapshot returns a point-in-time view usable by eventlog.Stream without
// holding the scheduler's mutex while the subscriber processes it.
func (s *Scheduler) Snapshot() eventlog.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eventlog.Snapshot{
		RunID:        s.run.ID,
		Status:       s.run.Status,
		ActiveNodeID: s.run.ActiveNodeID,
		NodeRuns:     append([]wfgraph.NodeRun(nil), s.run.NodeRuns...),
		Logs:         append([]wfgraph.Event(nil), s.run.Logs...),
	}
}

// View returns the run's external-facing projection (wfgraph.Run.View),
// taken under the scheduler's mutex so it never races Execute's writes to
// the same Run fields (spec.md §5: "All reads and writes of Run fields
// occur under this mutex"). Package registry must call this instead of
// reading its own *wfgraph.Run pointer directly.
func (s *Scheduler) View(includeLogs bool) wfgraph.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.View(includeLogs)
}

// RequestCancel sets cancelRequested and logs control/"Cancellation
// requested" exactly once. The scheduler observes the flag at its next
// mutex acquisition (spec.md §5: cancellation is cooperative).
func (s *Scheduler) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run.CancelRequested || isTerminal(s.run.Status) {
		return
	}
	s.run.CancelRequested = true
	s.appendLogLocked(wfgraph.EventControl, "Cancellation requested", "", "", nil, s.now())
}

func isTerminal(status wfgraph.RunStatus) bool {
	switch status {
	case wfgraph.RunSuccess, wfgraph.RunFailed, wfgraph.RunCancelled:
		return true
	default:
		return false
	}
}
