package agentloop

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/workflow-run-engine/wfgraph"
	"github.com/dshills/workflow-run-engine/wftool"
)

// scriptedClient returns one canned reply per call, in order.
type scriptedClient struct {
	replies []string
	calls   int
}

func (c *scriptedClient) Decide(_ context.Context, _, _, _ string) (string, error) {
	if c.calls >= len(c.replies) {
		return `{"action":"final","summary":"fallback"}`, nil
	}
	r := c.replies[c.calls]
	c.calls++
	return r, nil
}

func noopEmit(category wfgraph.EventCategory, title, message string, payload any) wfgraph.Event {
	return wfgraph.Event{Category: category, Title: title, Message: message, Payload: payload}
}

func baseNodeContext() NodeContext {
	return NodeContext{
		RunID:    "wfr_test",
		Workflow: wfgraph.WorkflowTemplate{ID: "wf1", Name: "Test Workflow"},
		Node:     wfgraph.Node{ID: "n1", Name: "Writer"},
		IsSink:   true,
	}
}

func TestRunNodeImmediateFinal(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"action":"final","summary":"All done."}`}}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(), MaxSteps: 5, Now: time.Now}

	out, events, err := RunNode(context.Background(), deps, baseNodeContext(), noopEmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Summary != "All done." {
		t.Fatalf("want summary from decision, got %q", out.Summary)
	}
	if len(events) == 0 {
		t.Fatal("want at least one emitted event")
	}
}

// echoTool returns its name-derived marker in Result so tests can assert dispatch happened.
type echoTool struct{ name string }

func (e echoTool) Name() string { return e.name }
func (e echoTool) Spec() wftool.Spec {
	return wftool.Spec{Name: e.name, Description: "test tool"}
}
func (e echoTool) Call(_ context.Context, _ wftool.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echoed": args["value"]}, nil
}

func TestRunNodeToolThenFinal(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"action":"tool","tool_request":{"name":"echo","args":{"value":"hi"}}}`,
		`{"action":"final","summary":"used the tool"}`,
	}}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(echoTool{name: "echo"}), MaxSteps: 5, Now: time.Now}

	out, _, err := RunNode(context.Background(), deps, baseNodeContext(), noopEmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Data["toolCallCount"] != 1 {
		t.Fatalf("want 1 tool call recorded, got %#v", out.Data["toolCallCount"])
	}
}

func TestRunNodeCircuitBreakerAfterFiveRepeats(t *testing.T) {
	var replies []string
	for i := 0; i < 6; i++ {
		replies = append(replies, `{"action":"tool","tool_request":{"name":"echo","args":{"value":"x"}}}`)
	}
	replies = append(replies, `{"action":"final","summary":"stopped"}`)
	client := &scriptedClient{replies: replies}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(echoTool{name: "echo"}), MaxSteps: 20, Now: time.Now}

	out, _, err := RunNode(context.Background(), deps, baseNodeContext(), noopEmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Summary != "stopped" {
		t.Fatalf("want loop to eventually finalize, got %#v", out)
	}
}

func TestRunNodeExhaustsTurnsFails(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"action":"tool","tool_request":{"name":"echo","args":{}}}`,
		`{"action":"tool","tool_request":{"name":"echo","args":{}}}`,
	}}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(echoTool{name: "echo"}), MaxSteps: 2, Now: time.Now}

	_, _, err := RunNode(context.Background(), deps, baseNodeContext(), noopEmit)
	if err == nil {
		t.Fatal("want failure when turns are exhausted without a final decision")
	}
	if _, ok := err.(ErrNodeFailed); !ok {
		t.Fatalf("want ErrNodeFailed, got %T: %v", err, err)
	}
}

func TestRunNodeRejectsMissingCodeBundleDeliverable(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"action":"final","summary":"no bundle here","data":{}}`,
		`{"action":"final","summary":"still none","data":{}}`,
	}}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(), MaxSteps: 2, Now: time.Now}

	nc := baseNodeContext()
	nc.RequestedDeliverables = []string{"app-bundle.zip"}

	_, _, err := RunNode(context.Background(), deps, nc, noopEmit)
	if err == nil {
		t.Fatal("want failure after exhausting retries on missing code bundle")
	}
}

func TestRunNodeAcceptsCodeBundleDeliverable(t *testing.T) {
	reply := `{"action":"final","summary":"shipped","data":{"deliverables":{"app-bundle.zip":{"files":{"main.go":"package main"}}}}}`
	client := &scriptedClient{replies: []string{reply}}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(), MaxSteps: 3, Now: time.Now}

	nc := baseNodeContext()
	nc.RequestedDeliverables = []string{"app-bundle.zip"}

	out, _, err := RunNode(context.Background(), deps, nc, noopEmit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Summary != "shipped" {
		t.Fatalf("got %#v", out)
	}
}

// TestRunNodeSkipsCodeBundleValidationForNonSink asserts spec.md §8's
// boundary case: a non-sink node finishing with action:final is never
// subjected to the code-bundle validator, even when a requested
// deliverable name matches a code-bundle hint and the node's own data
// has nothing that would satisfy it.
func TestRunNodeSkipsCodeBundleValidationForNonSink(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"action":"final","summary":"handed off","data":{}}`}}
	deps := Dependencies{Client: client, Tools: wftool.NewRegistry(), MaxSteps: 2, Now: time.Now}

	nc := baseNodeContext()
	nc.IsSink = false
	nc.RequestedDeliverables = []string{"app-bundle.zip"}

	out, _, err := RunNode(context.Background(), deps, nc, noopEmit)
	if err != nil {
		t.Fatalf("want non-sink node to finalize without code-bundle validation, got error: %v", err)
	}
	if out.Summary != "handed off" {
		t.Fatalf("got %#v", out)
	}
}

func TestClampMaxSteps(t *testing.T) {
	cases := map[int]int{0: 1, -5: 1, 50: 50, 200: 100, 1: 1, 100: 100}
	for in, want := range cases {
		if got := ClampMaxSteps(in); got != want {
			t.Errorf("ClampMaxSteps(%d) = %d, want %d", in, got, want)
		}
	}
}
