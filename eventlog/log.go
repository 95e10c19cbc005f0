// Package eventlog implements the append-only, sequence-stamped run log
// (spec.md §4.5, component C5). Every event a run produces — lifecycle
// transitions, node input/output summaries, handoffs, thinking traces,
// errors and control actions — flows through a Log before it reaches a
// Run's Logs slice or a NodeRun's Logs slice.
//
// The log is intentionally dumb: it assigns a strictly increasing Seq per
// run and appends. Filtering, streaming cadence, and storage are the
// caller's concern (package registry / scheduler).
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/workflow-run-engine/sanitize"
	"github.com/dshills/workflow-run-engine/wfgraph"
)

// Log assigns monotonic sequence numbers to events for a single run. It is
// safe for concurrent use; the scheduler appends from its single worker
// goroutine while readers (the HTTP/CLI layer) poll concurrently.
type Log struct {
	mu  sync.Mutex
	seq int64
}

// New returns an empty Log starting at sequence 0.
func New() *Log {
	return &Log{}
}

// Append stamps an event with a fresh id, timestamp and sequence number and
// returns it. now is supplied by the caller so scheduling stays testable.
func (l *Log) Append(category wfgraph.EventCategory, title, message, nodeID string, payload any, now time.Time) wfgraph.Event {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	if payload != nil {
		payload = sanitize.DeepTruncate(payload, sanitize.Default())
	}

	return wfgraph.Event{
		ID:        "evt_" + uuid.NewString()[:10],
		Seq:       seq,
		Timestamp: now,
		Category:  category,
		Title:     title,
		Message:   sanitize.TruncateText(message, wfgraph.MaxMessageLen),
		NodeID:    nodeID,
		Payload:   payload,
	}
}

// LastSeq returns the most recently assigned sequence number.
func (l *Log) LastSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
