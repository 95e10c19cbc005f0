package eventlog

import (
	"context"
	"sort"
	"time"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

// DefaultPollInterval is the polling cadence stream_run_events falls back to
// when the caller does not specify one (spec.md §4.5).
const DefaultPollInterval = 300 * time.Millisecond

// StreamEventName enumerates the SSE-style event kinds a subscriber receives.
type StreamEventName string

const (
	StreamLog             StreamEventName = "log"
	StreamWorkspaceChange StreamEventName = "workspace:change"
	StreamState           StreamEventName = "state"
	StreamRunComplete     StreamEventName = "run:complete"
)

// StreamEvent is one item handed to a subscriber's Sink.
type StreamEvent struct {
	Name StreamEventName
	Data any
}

// NodeState is the per-node projection embedded in a "state" event.
type NodeState struct {
	NodeID string            `json:"nodeId"`
	Name   string            `json:"name"`
	Status wfgraph.NodeStatus `json:"status"`
}

// StateData is the payload of a "state" event.
type StateData struct {
	RunID        string             `json:"runId"`
	Status       wfgraph.RunStatus  `json:"status"`
	ActiveNodeID string             `json:"activeNodeId"`
	NodeRuns     []NodeState        `json:"nodeRuns"`
}

// WorkspaceChangeData is the payload of a "workspace:change" event,
// synthesized from any log payload carrying workspaceRefs.
type WorkspaceChangeData struct {
	Path       string `json:"path"`
	Operation  string `json:"operation"`
	Kind       string `json:"kind"`
	SourceTool string `json:"sourceTool"`
	NodeID     string `json:"nodeId"`
	Seq        int64  `json:"seq"`
}

// Snapshot is an immutable view of a run's current state, produced by the
// caller (package registry) under its mutex and handed to Stream lock-free.
type Snapshot struct {
	RunID        string
	Status       wfgraph.RunStatus
	ActiveNodeID string
	NodeRuns     []wfgraph.NodeRun
	Logs         []wfgraph.Event
}

// Provider returns the current snapshot for a run, and false if the run no
// longer exists (e.g. deleted mid-stream).
type Provider func() (Snapshot, bool)

// Sink receives stream events in order. An error from Sink aborts Stream.
type Sink func(StreamEvent) error

// Stream implements stream_run_events (spec.md §4.5): it polls provider at
// pollInterval (DefaultPollInterval when <= 0), emitting "log" events for
// every event with Seq > lastSeq (in increasing Seq order), a synthesized
// "workspace:change" event for any log whose payload carries workspaceRefs,
// and a "state" event every poll. When the run's status is terminal and two
// consecutive polls observe no new log events, Stream emits "run:complete"
// and returns nil.
//
// Stream blocks until completion, ctx cancellation, a Sink error, or the
// run disappearing (provider returns false). It returns the Sink's error,
// ctx.Err() on cancellation, and nil for a clean run:complete or a run that
// disappeared.
func Stream(ctx context.Context, lastSeq int64, pollInterval time.Duration, provider Provider, sink Sink) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	emptyPolls := 0
	for {
		snap, ok := provider()
		if !ok {
			return nil
		}

		newEvents := eventsSince(snap.Logs, lastSeq)
		if len(newEvents) > 0 {
			emptyPolls = 0
			for _, ev := range newEvents {
				if err := sink(StreamEvent{Name: StreamLog, Data: ev}); err != nil {
					return err
				}
				for _, wc := range workspaceChangesFromPayload(ev) {
					if err := sink(StreamEvent{Name: StreamWorkspaceChange, Data: wc}); err != nil {
						return err
					}
				}
				lastSeq = ev.Seq
			}
		} else {
			emptyPolls++
		}

		if err := sink(StreamEvent{Name: StreamState, Data: buildStateData(snap)}); err != nil {
			return err
		}

		if isTerminal(snap.Status) && emptyPolls >= 2 {
			return sink(StreamEvent{Name: StreamRunComplete, Data: nil})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func eventsSince(logs []wfgraph.Event, lastSeq int64) []wfgraph.Event {
	out := make([]wfgraph.Event, 0, len(logs))
	for _, ev := range logs {
		if ev.Seq > lastSeq {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func buildStateData(snap Snapshot) StateData {
	nodes := make([]NodeState, len(snap.NodeRuns))
	for i, nr := range snap.NodeRuns {
		nodes[i] = NodeState{NodeID: nr.NodeID, Name: nr.Name, Status: nr.Status}
	}
	return StateData{
		RunID:        snap.RunID,
		Status:       snap.Status,
		ActiveNodeID: snap.ActiveNodeID,
		NodeRuns:     nodes,
	}
}

func isTerminal(status wfgraph.RunStatus) bool {
	switch status {
	case wfgraph.RunSuccess, wfgraph.RunFailed, wfgraph.RunCancelled:
		return true
	default:
		return false
	}
}

// workspaceChangesFromPayload inspects ev.Payload for a "workspaceRefs" entry
// and synthesizes one workspace:change event per ref, matching spec.md
// §4.5's "synthesized from any log payload containing workspaceRefs."
//
// By the time a payload reaches here it has already passed through
// sanitize.DeepTruncate (eventlog.Log.Append), which has no case for a
// concrete struct slice like []wfgraph.WorkspaceRef and would collapse one
// to an opaque string. Producers must hand Append a JSON-safe
// []any-of-map[string]any instead (see wfgraph.WorkspaceRefsToAny), which is
// the shape read here.
func workspaceChangesFromPayload(ev wfgraph.Event) []WorkspaceChangeData {
	refs := refsFromPayload(ev.Payload)
	if len(refs) == 0 {
		return nil
	}
	out := make([]WorkspaceChangeData, 0, len(refs))
	for _, ref := range refs {
		out = append(out, WorkspaceChangeData{
			Path:       stringField(ref, "path"),
			Operation:  stringField(ref, "operation"),
			Kind:       stringField(ref, "kind"),
			SourceTool: stringField(ref, "sourceTool"),
			NodeID:     ev.NodeID,
			Seq:        ev.Seq,
		})
	}
	return out
}

func refsFromPayload(payload any) []map[string]any {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["workspaceRefs"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		ref, ok := item.(map[string]any)
		if !ok || ref["path"] == nil {
			continue // skips DeepTruncate's trailing _truncated_items/_truncated marker, if any
		}
		out = append(out, ref)
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
