package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// mockClient is a demo-only agentloop.AgentDecisionClient: it never calls a
// real provider, always finishes the node on its first turn, and echoes a
// deterministic summary derived from the turn's user text. It exists so
// cmd/wfrundemo can drive the full engine end to end without network access
// or a real API key's worth of spend, the same role teacher's MockProvider
// plays for the multi-LLM review example.
//
// Model is recorded only to appear in the reply's status_note; no request is
// ever sent for it.
type mockClient struct {
	Model string
}

func newMockClient(model string) *mockClient {
	return &mockClient{Model: model}
}

// Decide implements agentloop.AgentDecisionClient. It respects context
// cancellation and otherwise returns instantly.
func (m *mockClient) Decide(ctx context.Context, systemPrompt, userText, schemaText string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	reply := map[string]any{
		"action":      "final",
		"status_note": fmt.Sprintf("completed via demo model %q", m.Model),
		"summary":     summaryFromUserText(userText),
		"details":     map[string]any{"mock": true},
		"data":        map[string]any{"final_markdown": "# Demo Output\n\n" + summaryFromUserText(userText) + "\n"},
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return "", fmt.Errorf("mockclient: marshal reply: %w", err)
	}
	return string(out), nil
}

// summaryFromUserText pulls a short, deterministic line out of the prompt
// payload (the node's name and objective, or the text's first line when the
// payload does not decode) so different nodes produce visibly different (if
// synthetic) output instead of one repeated string.
func summaryFromUserText(userText string) string {
	const maxLen = 160
	trimmed := strings.TrimSpace(userText)
	if trimmed == "" {
		return "Node objective completed by the demo client."
	}
	var payload struct {
		Node struct {
			Name      string `json:"name"`
			Objective string `json:"objective"`
		} `json:"node"`
	}
	first := strings.TrimSpace(strings.Split(trimmed, "\n")[0])
	if err := json.NewDecoder(strings.NewReader(trimmed)).Decode(&payload); err == nil && payload.Node.Name != "" {
		first = payload.Node.Name
		if payload.Node.Objective != "" {
			first += ": " + payload.Node.Objective
		}
	}
	if len(first) > maxLen {
		first = first[:maxLen] + "..."
	}
	return "Demo client finished: " + first
}
