// Package wfgraph defines the shared data model for the workflow run engine:
// templates, edges, handoff contracts, runs and their node-level records.
//
// Types here are pure data — no execution logic lives in this package.
// The scheduler (package scheduler) mutates Run values under its mutex;
// the handoff broker (package handoff) produces HandoffPacket values;
// the agent decision loop (package agentloop) produces NodeOutput values.
package wfgraph

import "time"

// FieldType enumerates the coercion targets a HandoffField can declare.
type FieldType string

// Supported handoff field types. Any unrecognized type string normalizes to Any.
const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
	FieldJSON    FieldType = "json"
	FieldAny     FieldType = "any"
)

// Node is one agent vertex in a workflow template.
type Node struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Role      string `json:"role" yaml:"role"`
	Objective string `json:"objective" yaml:"objective"`
}

// HandoffField describes one typed extraction from a source node's output.
type HandoffField struct {
	TargetKey   string    `json:"targetKey" yaml:"targetKey"`
	SourcePath  string    `json:"sourcePath" yaml:"sourcePath"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// HandoffContract declares how an edge's handoff packet is built from the
// source node's output.
type HandoffContract struct {
	PacketType string         `json:"packetType" yaml:"packetType"`
	Fields     []HandoffField `json:"fields" yaml:"fields"`
}

// Edge connects two nodes and optionally carries a HandoffContract. When
// Contract is nil the broker synthesizes a default one (see package handoff).
type Edge struct {
	Source   string           `json:"source" yaml:"source"`
	Target   string           `json:"target" yaml:"target"`
	Handoff  string           `json:"handoff" yaml:"handoff"`
	Contract *HandoffContract `json:"contract,omitempty" yaml:"contract,omitempty"`
}

// WorkflowTemplate is the user-authored DAG submitted with a run request.
type WorkflowTemplate struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Prompt  string `json:"prompt" yaml:"prompt"`
	Summary string `json:"summary" yaml:"summary"`
	Nodes   []Node `json:"nodes" yaml:"nodes"`
	Edges   []Edge `json:"edges" yaml:"edges"`
}

// WorkspaceRef is a stable pointer at a path inside a run's workspace,
// carrying enough provenance to explain how it got there.
type WorkspaceRef struct {
	Path       string `json:"path"`
	Kind       string `json:"kind,omitempty"`
	Role       string `json:"role,omitempty"`
	Operation  string `json:"operation,omitempty"`
	SourceTool string `json:"sourceTool,omitempty"`
	Status     string `json:"status,omitempty"`
	Note       string `json:"note,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	SizeBytes  int64  `json:"sizeBytes,omitempty"`
	FileCount  int    `json:"fileCount,omitempty"`
}

// DedupKey identifies a WorkspaceRef for deduplication, per spec.md §4.6:
// "dedup by path|operation|kind|sourceTool".
func (r WorkspaceRef) DedupKey() string {
	return r.Path + "|" + r.Operation + "|" + r.Kind + "|" + r.SourceTool
}

// ToMap renders r as a plain JSON-safe map, matching its json tags. Use this
// (or WorkspaceRefsToAny for a slice) before handing a WorkspaceRef to
// anything that runs it through sanitize.DeepTruncate: DeepTruncate has no
// case for a concrete struct and would otherwise collapse it to an opaque
// string via its default branch.
func (r WorkspaceRef) ToMap() map[string]any {
	m := map[string]any{"path": r.Path}
	if r.Kind != "" {
		m["kind"] = r.Kind
	}
	if r.Role != "" {
		m["role"] = r.Role
	}
	if r.Operation != "" {
		m["operation"] = r.Operation
	}
	if r.SourceTool != "" {
		m["sourceTool"] = r.SourceTool
	}
	if r.Status != "" {
		m["status"] = r.Status
	}
	if r.Note != "" {
		m["note"] = r.Note
	}
	if r.Purpose != "" {
		m["purpose"] = r.Purpose
	}
	if r.Cwd != "" {
		m["cwd"] = r.Cwd
	}
	if r.SizeBytes != 0 {
		m["sizeBytes"] = r.SizeBytes
	}
	if r.FileCount != 0 {
		m["fileCount"] = r.FileCount
	}
	return m
}

// WorkspaceRefsToAny converts refs into a []any of ToMap results, the
// JSON-safe shape a log payload or handoff packet must carry so the value
// survives sanitize.DeepTruncate intact instead of falling into its
// default/struct branch.
func WorkspaceRefsToAny(refs []WorkspaceRef) []any {
	out := make([]any, len(refs))
	for i, r := range refs {
		out[i] = r.ToMap()
	}
	return out
}

// NodeOutput is the normalized result of one node's agent decision loop.
type NodeOutput struct {
	Summary string                 `json:"summary"`
	Details map[string]any         `json:"details"`
	Data    map[string]any         `json:"data"`
}

// WorkspaceRefs extracts data.workspaceRefs from the output's Data map, if present.
func (o NodeOutput) WorkspaceRefs() []WorkspaceRef {
	raw, ok := o.Data["workspaceRefs"]
	if !ok {
		return nil
	}
	items, ok := raw.([]WorkspaceRef)
	if !ok {
		return nil
	}
	return items
}

// HandoffFieldResolution reports how one contract field resolved against a
// source output, independent of whether the resolved value satisfied the
// "required" constraint.
type HandoffFieldResolution struct {
	TargetKey   string    `json:"targetKey"`
	SourcePath  string    `json:"sourcePath"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Resolved    bool      `json:"resolved"`
	Description string    `json:"description,omitempty"`
}

// HandoffPacket is the typed message produced by the broker (C4) when an
// edge is traversed.
type HandoffPacket struct {
	ID                   string                   `json:"id"`
	Label                string                   `json:"label"`
	PacketType           string                   `json:"packetType"`
	FromNodeID           string                   `json:"fromNodeId"`
	FromNodeName         string                   `json:"fromNodeName"`
	ToNodeID             string                   `json:"toNodeId"`
	ToNodeName           string                   `json:"toNodeName"`
	Summary              string                   `json:"summary"`
	Payload              map[string]any           `json:"payload"`
	Schema               HandoffPacketSchema      `json:"schema"`
	MissingRequiredFields []string                `json:"missingRequiredFields"`
	GeneratedAt          time.Time                `json:"generatedAt"`
}

// HandoffPacketSchema wraps the per-field resolution report embedded in a packet.
type HandoffPacketSchema struct {
	Fields []HandoffFieldResolution `json:"fields"`
}

// NodeStatus is the lifecycle state of a single node within a run.
type NodeStatus string

const (
	NodeQueued    NodeStatus = "queued"
	NodeRunning   NodeStatus = "running"
	NodeSuccess   NodeStatus = "success"
	NodeFailed    NodeStatus = "failed"
	NodeCancelled NodeStatus = "cancelled"
)

// UpstreamInput is one incoming edge's resolved context, handed to the agent
// decision loop alongside the node it is about to execute.
type UpstreamInput struct {
	FromNodeID    string           `json:"fromNodeId"`
	FromNodeName  string           `json:"fromNodeName"`
	Handoff       string           `json:"handoff"`
	Contract      HandoffContract  `json:"handoffContract"`
	PacketSummary string           `json:"packetSummary,omitempty"`
	Packet        *HandoffPacket   `json:"packet,omitempty"`
	OutputSummary string           `json:"outputSummary,omitempty"`
	Output        *NodeOutput      `json:"output,omitempty"`
}

// NodeRun is the per-node execution record tracked inside a Run.
type NodeRun struct {
	NodeID         string          `json:"nodeId"`
	Name           string          `json:"name"`
	Role           string          `json:"role"`
	Objective      string          `json:"objective"`
	Status         NodeStatus      `json:"status"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
	DurationMs     *float64        `json:"durationMs,omitempty"`
	Logs           []Event         `json:"logs"`
	Output         *NodeOutput     `json:"output,omitempty"`
	UpstreamInputs []UpstreamInput `json:"upstreamInputs,omitempty"`
	OutputSummary  string          `json:"outputSummary,omitempty"`
}

// RunStatus is the lifecycle state of an entire run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Progress tracks node completion counters surfaced on the run view.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completedNodes"`
	Failed    int `json:"failedNodes"`
}

// Deliverable describes one persisted run artifact.
type Deliverable struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ArtifactKind string `json:"artifactKind"` // "file" | "directory"
	Path         string `json:"path"`
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
	FileCount    int    `json:"fileCount,omitempty"`
}

// Outputs is the summarized result of a successfully finalized run.
type Outputs struct {
	Summary             string   `json:"summary"`
	FinalMarkdown       string   `json:"finalMarkdown"`
	SinkNodeIDs         []string `json:"sinkNodeIds"`
	NodeOutputCount     int      `json:"nodeOutputCount"`
	ArtifactDirectory   string   `json:"artifactDirectory"`
	ArtifactManifestPath string  `json:"artifactManifestPath"`
	WorkspaceDirectory  string   `json:"workspaceDirectory"`
	WorkspaceDirectories []string `json:"workspaceDirectories"`
}

// Run is the full, internal record of one workflow execution. Meta holds
// scheduling state that is never exposed to external callers; see View().
type Run struct {
	ID                   string          `json:"id"`
	WorkflowID           string          `json:"workflowId"`
	WorkflowName         string          `json:"workflowName"`
	WorkflowPrompt       string          `json:"workflowPrompt"`
	WorkflowSummary      string          `json:"workflowSummary"`
	WorkflowSnapshot     WorkflowTemplate `json:"workflowSnapshot"`
	Status               RunStatus       `json:"status"`
	CreatedAt            time.Time       `json:"createdAt"`
	StartedAt            *time.Time      `json:"startedAt,omitempty"`
	FinishedAt           *time.Time      `json:"finishedAt,omitempty"`
	DurationMs           *float64        `json:"durationMs,omitempty"`
	Inputs               map[string]any  `json:"inputs"`
	RequestedDeliverables []string       `json:"requestedDeliverables"`
	Outputs              *Outputs        `json:"outputs,omitempty"`
	Deliverables         []Deliverable   `json:"deliverables"`
	CancelRequested      bool            `json:"-"`
	Error                string          `json:"error,omitempty"`
	ActiveNodeID         string          `json:"activeNodeId,omitempty"`
	Progress             Progress        `json:"progress"`
	Logs                 []Event         `json:"logs"`
	NodeRuns             []NodeRun       `json:"nodeRuns"`
	WorkspaceDirectory   string          `json:"workspace"`

	Meta *RunMeta `json:"-"`
}

// RunMeta holds scheduling metadata that is internal to the engine and is
// never serialized into a run view (spec.md §3 _meta).
type RunMeta struct {
	Order          []string
	NodeMap        map[string]Node
	IncomingEdges  map[string][]Edge
	OutgoingEdges  map[string][]Edge
	NodeOutputs    map[string]*NodeOutput
	HandoffPackets map[string]*HandoffPacket
	Seq            int64
}

// FindNodeRun returns a pointer to the NodeRun for nodeID, or nil.
func (r *Run) FindNodeRun(nodeID string) *NodeRun {
	for i := range r.NodeRuns {
		if r.NodeRuns[i].NodeID == nodeID {
			return &r.NodeRuns[i]
		}
	}
	return nil
}

// SinkNodeIDs returns the node ids in topological order that have no
// outgoing edges.
func (r *Run) SinkNodeIDs() []string {
	var sinks []string
	for _, id := range r.Meta.Order {
		if len(r.Meta.OutgoingEdges[id]) == 0 {
			sinks = append(sinks, id)
		}
	}
	return sinks
}
