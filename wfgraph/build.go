package wfgraph

import (
	"strings"
	"time"
)

// MaxRequestedDeliverables bounds RunCreateRequest.RequestedDeliverables (spec.md §6).
const MaxRequestedDeliverables = 20

// RunCreateRequest is the admission-time payload handed to the registry.
type RunCreateRequest struct {
	Template              WorkflowTemplate `json:"template"`
	Inputs                map[string]any   `json:"inputs"`
	RequestedDeliverables []string         `json:"requestedDeliverables"`
}

// BuildRun validates the request's template and materializes a fresh Run
// with all node runs queued and _meta populated. It performs no I/O and
// spawns no goroutine; the caller (package registry) is responsible for
// creating the on-disk workspace and starting the scheduler worker.
//
// Ported from the original's `_build_run_from_request`.
func BuildRun(req RunCreateRequest, now time.Time) (*Run, error) {
	order, err := ValidateTemplate(req.Template)
	if err != nil {
		return nil, err
	}

	incoming, outgoing := BuildEdgeIndex(req.Template.Edges)

	nodeMap := make(map[string]Node, len(req.Template.Nodes))
	nodeRuns := make([]NodeRun, 0, len(req.Template.Nodes))
	for _, n := range req.Template.Nodes {
		nodeMap[n.ID] = n
		nodeRuns = append(nodeRuns, NodeRun{
			NodeID:    n.ID,
			Name:      n.Name,
			Role:      n.Role,
			Objective: n.Objective,
			Status:    NodeQueued,
		})
	}

	requested := make([]string, 0, len(req.RequestedDeliverables))
	for _, d := range req.RequestedDeliverables {
		if trimmed := strings.TrimSpace(d); trimmed != "" {
			requested = append(requested, trimmed)
			if len(requested) >= MaxRequestedDeliverables {
				break
			}
		}
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}

	run := &Run{
		ID:                    NewRunID(),
		WorkflowID:            req.Template.ID,
		WorkflowName:          req.Template.Name,
		WorkflowPrompt:        req.Template.Prompt,
		WorkflowSummary:       req.Template.Summary,
		WorkflowSnapshot:      req.Template,
		Status:                RunQueued,
		CreatedAt:             now,
		Inputs:                inputs,
		RequestedDeliverables: requested,
		Deliverables:          []Deliverable{},
		Progress:              Progress{Total: len(req.Template.Nodes)},
		Logs:                  []Event{},
		NodeRuns:              nodeRuns,
		Meta: &RunMeta{
			Order:          order,
			NodeMap:        nodeMap,
			IncomingEdges:  incoming,
			OutgoingEdges:  outgoing,
			NodeOutputs:    make(map[string]*NodeOutput),
			HandoffPackets: make(map[string]*HandoffPacket),
		},
	}
	return run, nil
}

// View projects a Run into the external-facing shape: no _meta, no
// cancelRequested. When includeLogs is false, top-level and per-node logs,
// per-node output and upstreamInputs are stripped too (spec.md §4.8 list()).
func (r *Run) View(includeLogs bool) Run {
	cp := *r
	cp.Meta = nil
	if !includeLogs {
		cp.Logs = nil
		cp.NodeRuns = make([]NodeRun, len(r.NodeRuns))
		for i, nr := range r.NodeRuns {
			nr.Logs = nil
			nr.Output = nil
			nr.UpstreamInputs = nil
			cp.NodeRuns[i] = nr
		}
	}
	return cp
}
