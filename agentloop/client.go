// Package agentloop implements the per-node agent decision loop (spec.md
// §4.6, component C6): prompt construction, the AgentDecisionClient
// boundary, reply parsing, tool dispatch with repetition/circuit-breaker
// control, and deliverable-contract validation on the final turn.
package agentloop

import "context"

// AgentDecisionClient is the sole boundary between this package and a
// language model. Decide receives a fixed system prompt, a user message
// embedding the turn's prompt payload plus the decision schema, and must
// return the model's raw reply text for parsing by this package.
//
// Two shapes are expected in production: a chat-completions client that
// requests a JSON object response format, and a fallback client that does
// not. Implementations should honor ctx cancellation where the underlying
// transport allows it, but are not required to abort an in-flight request.
type AgentDecisionClient interface {
	Decide(ctx context.Context, systemPrompt, userText, schemaText string) (string, error)
}

// ToolRequest is the tool the model asked to invoke on an action:"tool" turn.
type ToolRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Decision is the parsed shape of one AgentDecisionClient reply.
type Decision struct {
	Action      string         `json:"action"`
	StatusNote  string         `json:"status_note"`
	Summary     string         `json:"summary"`
	Details     map[string]any `json:"details"`
	Data        map[string]any `json:"data"`
	ToolRequest *ToolRequest   `json:"tool_request,omitempty"`
}

const (
	actionTool  = "tool"
	actionFinal = "final"
)

// DecisionSchemaText is embedded in the user message alongside the prompt
// payload so the model knows the exact reply shape expected.
const DecisionSchemaText = `{
  "action": "tool | final",
  "status_note": "string, optional short narration of this turn",
  "summary": "string, required on action=final: concise but concrete summary",
  "details": {"...": "structured object, free-form"},
  "data": {"...": "structured object, free-form; may include workspaceRefs, deliverables, final_markdown"},
  "tool_request": {"name": "string, required on action=tool", "args": {"...": "tool arguments"}}
}`

// SystemPrompt is the fixed instruction text handed to the model for every
// turn of every node, ported from the original runtime's node-execution
// system prompt.
const SystemPrompt = "You are an execution agent in a DAG-based workflow runtime. " +
	"You must complete the current node's objective using the provided workflow inputs and upstream handoffs. " +
	"You may request exactly one tool call at a time using action='tool', or finish with action='final'. " +
	"Do not fabricate tool results. Only use tools listed in the tool catalog. " +
	"When you finish, produce a concise but concrete summary and structured details/data. " +
	"Include useful artifacts in data when available (e.g., code snippets, plans, findings, URLs, commands, file names). " +
	"If this is a sink/final node, include user-facing output in data.final_markdown when possible."
