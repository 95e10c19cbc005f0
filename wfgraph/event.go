package wfgraph

import "time"

// EventCategory classifies a log entry for filtering and UI rendering.
type EventCategory string

// The fixed set of categories an event can carry (spec.md §4.5).
const (
	EventLifecycle EventCategory = "lifecycle"
	EventInput     EventCategory = "input"
	EventHandoff   EventCategory = "handoff"
	EventThinking  EventCategory = "thinking"
	EventOutput    EventCategory = "output"
	EventError     EventCategory = "error"
	EventControl   EventCategory = "control"
)

// MaxMessageLen is the hard cap on Event.Message (spec.md §3).
const MaxMessageLen = 500

// Event is one append-only, sequence-stamped log entry. Seq is assigned by
// the event log (package eventlog) when the event is appended; it is always
// strictly increasing within a run.
type Event struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Category  EventCategory  `json:"category"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	NodeID    string         `json:"nodeId,omitempty"`
	Payload   any            `json:"payload,omitempty"`
}
