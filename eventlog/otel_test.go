package eventlog

import (
	"context"
	"errors"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

func TestOTelSinkEmitsSpanForLogEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	sink := NewOTelSink(tp.Tracer("test"))

	err := sink.Sink(StreamEvent{Name: StreamLog, Data: wfgraph.Event{
		ID: "evt_1", Seq: 1, Category: wfgraph.EventLifecycle, Title: "Run started", NodeID: "A",
	}})
	if err != nil {
		t.Fatalf("Sink: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("want 1 span, got %d", len(spans))
	}
	if spans[0].Name != "Run started" {
		t.Fatalf("want span named after event title, got %q", spans[0].Name)
	}
}

func TestOTelSinkIgnoresNonLogEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	sink := NewOTelSink(tp.Tracer("test"))
	if err := sink.Sink(StreamEvent{Name: StreamState, Data: StateData{RunID: "wfr_x"}}); err != nil {
		t.Fatalf("Sink: %v", err)
	}
	if len(exporter.GetSpans()) != 0 {
		t.Fatal("want no span for a non-log stream event")
	}
}

func TestMultiSinkStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var calls []int
	combined := MultiSink(
		func(StreamEvent) error { calls = append(calls, 1); return nil },
		func(StreamEvent) error { calls = append(calls, 2); return boom },
		func(StreamEvent) error { calls = append(calls, 3); return nil },
	)
	if err := combined(StreamEvent{Name: StreamState}); err != boom {
		t.Fatalf("want the second sink's error, got %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("want exactly 2 sinks invoked, got %v", calls)
	}
}
