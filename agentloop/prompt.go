package agentloop

import (
	"encoding/json"

	"github.com/dshills/workflow-run-engine/sanitize"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
)

const (
	workflowTextMaxChars = 1200
	upstreamOutputMax    = 2000
)

// WorkflowMeta is the truncated workflow description embedded in every
// turn's prompt payload.
type WorkflowMeta struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Prompt  string `json:"prompt"`
	Summary string `json:"summary"`
}

// NodeMeta describes the node currently executing.
type NodeMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Objective string `json:"objective"`
	IsSink    bool   `json:"isSink"`
}

// UpstreamHandoffView carries both the typed packet and the raw (truncated)
// source output, as spec.md §4.6 requires.
type UpstreamHandoffView struct {
	FromNodeID    string               `json:"fromNodeId"`
	FromNodeName  string               `json:"fromNodeName"`
	Handoff       string               `json:"handoff"`
	Packet        *wfgraph.HandoffPacket `json:"packet,omitempty"`
	SourceOutput  any                  `json:"sourceOutput,omitempty"`
}

// WorkspaceDescriptor tells the model where it is operating.
type WorkspaceDescriptor struct {
	Root string `json:"root"`
}

// Constraints bounds each turn.
type Constraints struct {
	MaxTurns                     int  `json:"maxTurns"`
	CurrentTurn                  int  `json:"currentTurn"`
	PreferFinalWhenEnoughContext bool `json:"preferFinalWhenEnoughContext"`
}

// PromptPayload is the full structured payload embedded in the user message
// sent to the AgentDecisionClient each turn.
type PromptPayload struct {
	Workflow         WorkflowMeta           `json:"workflow"`
	Node             NodeMeta               `json:"node"`
	RunInputs        any                    `json:"runInputs"`
	UpstreamHandoffs []UpstreamHandoffView  `json:"upstreamHandoffs"`
	ToolCatalog      []wftool.Spec          `json:"toolCatalog"`
	Workspace        WorkspaceDescriptor    `json:"workspace"`
	History          []map[string]any      `json:"history"`
	Constraints      Constraints            `json:"constraints"`
}

func buildWorkflowMeta(id, name, prompt, summary string) WorkflowMeta {
	return WorkflowMeta{
		ID:      id,
		Name:    name,
		Prompt:  sanitize.TruncateText(prompt, workflowTextMaxChars),
		Summary: sanitize.TruncateText(summary, workflowTextMaxChars),
	}
}

func buildUpstreamHandoffs(inputs []wfgraph.UpstreamInput) []UpstreamHandoffView {
	out := make([]UpstreamHandoffView, 0, len(inputs))
	for _, in := range inputs {
		var sourceOutput any
		if in.Output != nil {
			raw := map[string]any{
				"summary": in.Output.Summary,
				"details": in.Output.Details,
				"data":    in.Output.Data,
			}
			sourceOutput = sanitize.DeepTruncate(raw, sanitize.Default().WithMaxText(upstreamOutputMax))
		}

		packet := in.Packet
		out = append(out, UpstreamHandoffView{
			FromNodeID:   in.FromNodeID,
			FromNodeName: in.FromNodeName,
			Handoff:      in.Handoff,
			Packet:       packet,
			SourceOutput: sourceOutput,
		})
	}
	return out
}

// buildPromptPayload assembles one turn's PromptPayload.
func buildPromptPayload(
	workflow wfgraph.WorkflowTemplate,
	node wfgraph.Node,
	isSink bool,
	runInputs map[string]any,
	upstream []wfgraph.UpstreamInput,
	toolCatalog []wftool.Spec,
	workspaceRoot string,
	history []map[string]any,
	currentTurn, maxTurns int,
) PromptPayload {
	return PromptPayload{
		Workflow: buildWorkflowMeta(workflow.ID, workflow.Name, workflow.Prompt, workflow.Summary),
		Node: NodeMeta{
			ID: node.ID, Name: node.Name, Role: node.Role, Objective: node.Objective, IsSink: isSink,
		},
		RunInputs:        sanitize.DeepTruncate(runInputs, sanitize.Default()),
		UpstreamHandoffs: buildUpstreamHandoffs(upstream),
		ToolCatalog:      toolCatalog,
		Workspace:        WorkspaceDescriptor{Root: workspaceRoot},
		History:          history,
		Constraints: Constraints{
			MaxTurns:                     maxTurns,
			CurrentTurn:                  currentTurn,
			PreferFinalWhenEnoughContext: currentTurn >= maxTurns-1,
		},
	}
}

// renderUserText serializes payload as pretty JSON followed by the decision
// schema text, the shape handed to AgentDecisionClient.Decide as userText.
func renderUserText(payload PromptPayload) (string, error) {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(body) + "\n\nRespond with JSON matching this schema:\n" + DecisionSchemaText, nil
}
