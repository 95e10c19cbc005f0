package eventlog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

// OTelSink mirrors every "log" stream event as a span, so a run's trace
// shows up in whatever backend the process's TracerProvider is wired to
// (Jaeger, Zipkin, ...). Pair it with another Sink (e.g. one writing SSE)
// via MultiSink; OTelSink alone does not serve the HTTP stream.
//
// Adapted from the teacher's OTelEmitter.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink builds an OTelSink from tracer (typically otel.Tracer("workflow-run-engine")).
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Sink adapts OTelSink to the eventlog.Sink signature Stream expects.
// Non-"log" stream events (state, workspace:change, run:complete) are
// ignored; they are not points in a run's execution trace.
func (o *OTelSink) Sink(ev StreamEvent) error {
	if ev.Name != StreamLog {
		return nil
	}
	event, ok := ev.Data.(wfgraph.Event)
	if !ok {
		return nil
	}
	o.emit(event)
	return nil
}

func (o *OTelSink) emit(event wfgraph.Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Title)
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow.event_id", event.ID),
		attribute.Int64("workflow.seq", event.Seq),
		attribute.String("workflow.category", string(event.Category)),
		attribute.String("workflow.node_id", event.NodeID),
	)
	if event.Message != "" {
		span.SetAttributes(attribute.String("workflow.message", event.Message))
	}
	if event.Category == wfgraph.EventError {
		span.SetStatus(codes.Error, event.Message)
		span.RecordError(fmt.Errorf("%s", event.Message))
	}
}

// MultiSink fans one stream out to several sinks in order, stopping at the
// first error.
func MultiSink(sinks ...Sink) Sink {
	return func(ev StreamEvent) error {
		for _, s := range sinks {
			if err := s(ev); err != nil {
				return err
			}
		}
		return nil
	}
}
