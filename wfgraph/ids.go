package wfgraph

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID mints a run id in the "wfr_<12 hex>" form spec.md §3 requires.
func NewRunID() string {
	return "wfr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewHandoffID mints a handoff packet id ("hnd_<10 hex>").
func NewHandoffID() string {
	return "hnd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// NewDeliverableID mints a deliverable id ("dlv_<10 hex>").
func NewDeliverableID() string {
	return "dlv_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Slugify lower-cases value, replaces every non-alphanumeric rune with an
// underscore, collapses repeats, and trims leading/trailing underscores.
// Ported from `_slugify_runtime`. Idempotent: Slugify(Slugify(x)) == Slugify(x).
func Slugify(value, fallback string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else if r >= 'A' && r <= 'Z' {
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteByte('_')
		}
	}
	safe := b.String()
	for strings.Contains(safe, "__") {
		safe = strings.ReplaceAll(safe, "__", "_")
	}
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return fallback
	}
	return safe
}
