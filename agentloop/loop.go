package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/workflow-run-engine/sanitize"
	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
)

const (
	repetitionWarningThreshold = 3
	circuitBreakerThreshold    = 5
	maxWorkspaceRefs           = 120
	maxToolCallHistory         = 50
)

// EmitFunc appends one event to the run's log, invokes the scheduler's live
// callback, and returns the stamped Event so the loop can also return the
// full trace.
type EmitFunc func(category wfgraph.EventCategory, title, message string, payload any) wfgraph.Event

// LoopMetrics receives optional instrumentation from RunNode. A nil
// Dependencies.Metrics disables recording entirely.
type LoopMetrics interface {
	ToolCall(tool, outcome string)
	RepetitionEvent(kind string)
}

// Dependencies are the collaborators RunNode needs; none of them are
// per-node state, so a single Dependencies value is shared across every
// node in a run.
type Dependencies struct {
	Client   AgentDecisionClient
	Tools    *wftool.Registry
	MaxSteps int
	Now      func() time.Time
	Metrics  LoopMetrics
}

// NodeContext is the per-node input to RunNode: an immutable snapshot of
// everything the loop needs to decide and act.
type NodeContext struct {
	RunID                 string
	Workflow              wfgraph.WorkflowTemplate
	Node                  wfgraph.Node
	IsSink                bool
	RunInputs             map[string]any
	UpstreamInputs        []wfgraph.UpstreamInput
	RequestedDeliverables []string
	ToolCatalog           []wftool.Spec
	WorkspaceRoot         string
}

// ErrNodeFailed wraps a terminal node failure (exhausted turns, unrecoverable
// parse error, or exhausted deliverable-validation retries) so the scheduler
// can surface it as the run's failure message.
type ErrNodeFailed struct {
	Reason string
}

func (e ErrNodeFailed) Error() string { return e.Reason }

type repetitionTracker struct {
	lastTool string
	count    int
}

func (t *repetitionTracker) observe(tool string) int {
	if tool == t.lastTool {
		t.count++
	} else {
		t.lastTool = tool
		t.count = 1
	}
	return t.count
}

// RunNode executes the agent decision loop for one node: up to
// deps.MaxSteps turns of build-prompt / call-model / dispatch, until the
// model returns a valid action:"final" decision (or the loop fails).
//
// Grounded in the original runtime's per-node agent execution (the
// `_build_real_node_output` turn loop).
func RunNode(ctx context.Context, deps Dependencies, nc NodeContext, emit EmitFunc) (wfgraph.NodeOutput, []wfgraph.Event, error) {
	var history []map[string]any
	var events []wfgraph.Event
	var toolCalls []map[string]any
	var workspaceRefs []wfgraph.WorkspaceRef
	tracker := &repetitionTracker{}
	breakerActive := false

	maxSteps := deps.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	record := func(category wfgraph.EventCategory, title, message string, payload any) {
		events = append(events, emit(category, title, message, payload))
	}

	for turn := 0; turn < maxSteps; turn++ {
		payload := buildPromptPayload(
			nc.Workflow, nc.Node, nc.IsSink, nc.RunInputs, nc.UpstreamInputs,
			nc.ToolCatalog, nc.WorkspaceRoot, history, turn, maxSteps,
		)
		userText, err := renderUserText(payload)
		if err != nil {
			return wfgraph.NodeOutput{}, events, fmt.Errorf("agentloop: render prompt: %w", err)
		}

		decision, raw, err := decideWithRetry(ctx, deps.Client, userText)
		if err != nil {
			record(wfgraph.EventError, "Agent decision failed", err.Error(), map[string]any{"turn": turn})
			return wfgraph.NodeOutput{}, events, ErrNodeFailed{Reason: fmt.Sprintf("node %s: %v", nc.Node.ID, err)}
		}
		_ = raw

		switch decision.Action {
		case actionTool:
			if breakerActive {
				history = append(history, map[string]any{
					"turn": turn, "kind": "circuit_breaker_violation",
					"note": "tool call attempted after circuit breaker; ignoring and requiring final",
				})
				continue
			}

			name := ""
			var args map[string]any
			if decision.ToolRequest != nil {
				name = decision.ToolRequest.Name
				args = decision.ToolRequest.Args
			}

			tc := wftool.Context{Workspace: nc.WorkspaceRoot, RunID: nc.RunID, NodeID: nc.Node.ID}
			result, toolErr := deps.Tools.RunTool(ctx, tc, name, args)
			if toolErr != nil {
				history = append(history, map[string]any{
					"turn": turn, "action": "tool_error", "tool": name, "error": toolErr.Error(),
				})
				record(wfgraph.EventError, "Tool call failed", toolErr.Error(), map[string]any{"tool": name, "turn": turn})
				if deps.Metrics != nil {
					deps.Metrics.ToolCall(name, "error")
				}
			} else {
				history = append(history, map[string]any{
					"turn": turn, "action": "tool_result", "tool": name, "args": args, "result": result.Result,
				})
				toolCalls = append(toolCalls, map[string]any{"turn": turn, "tool": name, "args": args, "durationMs": result.DurationMs})
				workspaceRefs = append(workspaceRefs, extractWorkspaceRefs(result.Result)...)
				record(wfgraph.EventOutput, "Tool call completed", fmt.Sprintf("%s completed", name),
					map[string]any{"tool": name, "durationMs": result.DurationMs, "turn": turn})
				if deps.Metrics != nil {
					deps.Metrics.ToolCall(name, "success")
				}
			}

			count := tracker.observe(name)
			if count >= circuitBreakerThreshold {
				breakerActive = true
				history = append(history, map[string]any{
					"turn": turn, "kind": "circuit_breaker",
					"note": "Repeated tool calls detected; no further tool calls are permitted. Respond with action=final next.",
				})
				if deps.Metrics != nil {
					deps.Metrics.RepetitionEvent("circuit_breaker")
				}
			} else if count >= repetitionWarningThreshold {
				history = append(history, map[string]any{
					"turn": turn, "kind": "repetition_warning",
					"note": "You have called this tool repeatedly. Rely on upstream handoffs and run inputs instead of repeating the same call.",
				})
				if deps.Metrics != nil {
					deps.Metrics.RepetitionEvent("repetition_warning")
				}
			}

		case actionFinal:
			// Only a sink node's final decision is held to the requested
			// deliverables; a non-sink node may legitimately report
			// data.deliverables for its own output without being expected to
			// supply the run's code bundle (spec.md §4.6, §8).
			if nc.IsSink {
				missing := missingCodeBundleDeliverables(nc.RequestedDeliverables, decision.Data)
				if len(missing) > 0 {
					message := "Sink node output missing required code bundle deliverables: " + strings.Join(missing, ", ")
					if turn == maxSteps-1 {
						record(wfgraph.EventError, "Run failed", message, map[string]any{"missing": missing})
						return wfgraph.NodeOutput{}, events, ErrNodeFailed{Reason: message}
					}
					history = append(history, map[string]any{
						"turn": turn, "kind": "validation_retry", "note": message,
					})
					continue
				}
			}

			output := finalizeOutput(nc, decision, toolCalls, workspaceRefs, turn+1)
			record(wfgraph.EventOutput, "Agent output produced", output.Summary, map[string]any{
				"turn": turn, "workspaceRefs": wfgraph.WorkspaceRefsToAny(output.WorkspaceRefs()),
			})
			return output, events, nil

		default:
			history = append(history, map[string]any{
				"turn": turn, "kind": "invalid_action", "note": fmt.Sprintf("unrecognized action %q; must be tool or final", decision.Action),
			})
		}
	}

	message := fmt.Sprintf("node %s exceeded %d turns without a final decision", nc.Node.ID, maxSteps)
	record(wfgraph.EventError, "Run failed", message, nil)
	return wfgraph.NodeOutput{}, events, ErrNodeFailed{Reason: message}
}

// decideWithRetry calls client once, and on a parse failure retries exactly
// once with a corrective message quoting the previous reply.
func decideWithRetry(ctx context.Context, client AgentDecisionClient, userText string) (Decision, string, error) {
	raw, err := client.Decide(ctx, SystemPrompt, userText, DecisionSchemaText)
	if err != nil {
		return Decision{}, "", fmt.Errorf("decision request failed: %w", err)
	}
	decision, parseErr := ParseDecision(raw)
	if parseErr == nil {
		return decision, raw, nil
	}

	corrective := userText + "\n\nYour previous reply could not be parsed as JSON: " + parseErr.Error() +
		"\nPrevious reply (truncated):\n" + TruncateForRetry(raw)
	raw2, err := client.Decide(ctx, SystemPrompt, corrective, DecisionSchemaText)
	if err != nil {
		return Decision{}, "", fmt.Errorf("decision retry failed: %w", err)
	}
	decision2, parseErr2 := ParseDecision(raw2)
	if parseErr2 != nil {
		return Decision{}, "", fmt.Errorf("decision reply could not be parsed after retry: %w", parseErr2)
	}
	return decision2, raw2, nil
}

func extractWorkspaceRefs(result map[string]any) []wfgraph.WorkspaceRef {
	raw, ok := result["workspaceRefs"]
	if !ok {
		return nil
	}
	refs, ok := raw.([]wfgraph.WorkspaceRef)
	if !ok {
		return nil
	}
	return refs
}

func finalizeOutput(nc NodeContext, decision Decision, toolCalls []map[string]any, autoRefs []wfgraph.WorkspaceRef, stepCount int) wfgraph.NodeOutput {
	data := decision.Data
	if data == nil {
		data = map[string]any{}
	}

	modelRefs := refsFromData(data)
	merged := mergeWorkspaceRefs(autoRefs, modelRefs, maxWorkspaceRefs)

	data["summary"] = decision.Summary
	data["nodeId"] = nc.Node.ID
	data["nodeName"] = nc.Node.Name
	data["toolCallCount"] = len(toolCalls)
	data["workspaceRefs"] = merged

	truncatedToolCalls := toolCalls
	if len(truncatedToolCalls) > maxToolCallHistory {
		truncatedToolCalls = truncatedToolCalls[len(truncatedToolCalls)-maxToolCallHistory:]
	}

	details := map[string]any{
		"nodeId":       nc.Node.ID,
		"nodeName":     nc.Node.Name,
		"role":         nc.Node.Role,
		"objective":    nc.Node.Objective,
		"toolCalls":    sanitize.DeepTruncate(truncatedToolCalls, sanitize.Default()),
		"workspaceRefs": merged,
		"agentDetails": decision.Details,
		"stepCount":    stepCount,
	}

	return wfgraph.NodeOutput{
		Summary: decision.Summary,
		Details: details,
		Data:    data,
	}
}

func refsFromData(data map[string]any) []wfgraph.WorkspaceRef {
	raw, ok := data["workspaceRefs"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []wfgraph.WorkspaceRef:
		return v
	case []any:
		out := make([]wfgraph.WorkspaceRef, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, wfgraph.WorkspaceRef{
				Path:       stringOf(m["path"]),
				Kind:       stringOf(m["kind"]),
				Role:       stringOf(m["role"]),
				Operation:  stringOf(m["operation"]),
				SourceTool: stringOf(m["sourceTool"]),
				Status:     stringOf(m["status"]),
				Note:       stringOf(m["note"]),
				Purpose:    stringOf(m["purpose"]),
				Cwd:        stringOf(m["cwd"]),
			})
		}
		return out
	default:
		return nil
	}
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// mergeWorkspaceRefs unions auto-derived and model-supplied refs, deduping
// on DedupKey (path|operation|kind|sourceTool) and capping the result at
// max entries, per spec.md §4.6.
func mergeWorkspaceRefs(auto, model []wfgraph.WorkspaceRef, max int) []wfgraph.WorkspaceRef {
	seen := make(map[string]bool)
	var out []wfgraph.WorkspaceRef
	for _, ref := range append(append([]wfgraph.WorkspaceRef{}, auto...), model...) {
		key := ref.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
		if len(out) >= max {
			break
		}
	}
	return out
}
