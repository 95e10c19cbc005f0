// Package handoff implements the typed handoff broker (spec.md §4.4,
// component C4): contract normalization, dotted-path field extraction,
// total/deterministic type coercion, and packet assembly.
package handoff

import (
	"strings"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

// MaxFields bounds HandoffContract.Fields (spec.md §3).
const MaxFields = 20

const (
	maxTargetKeyLen   = 80
	maxSourcePathLen  = 160
	maxDescriptionLen = 240
	maxSummaryLen     = 240
)

var validFieldTypes = map[wfgraph.FieldType]bool{
	wfgraph.FieldString:  true,
	wfgraph.FieldNumber:  true,
	wfgraph.FieldBoolean: true,
	wfgraph.FieldArray:   true,
	wfgraph.FieldObject:  true,
	wfgraph.FieldJSON:    true,
	wfgraph.FieldAny:     true,
}

// DefaultContract builds the fallback contract used when an edge declares
// none, or declares a malformed one: packetType derived from the edge's
// free-text handoff label, and the three-field shape spec.md §3 names —
// summary (required string), details (optional object), workspaceRefs
// (optional array).
func DefaultContract(edgeHandoffLabel string) wfgraph.HandoffContract {
	return wfgraph.HandoffContract{
		PacketType: wfgraph.Slugify(edgeHandoffLabel, "handoff_packet"),
		Fields: []wfgraph.HandoffField{
			{TargetKey: "summary", SourcePath: "summary", Type: wfgraph.FieldString, Required: true},
			{TargetKey: "details", SourcePath: "details", Type: wfgraph.FieldObject, Required: false},
			{TargetKey: "workspaceRefs", SourcePath: "data.workspaceRefs", Type: wfgraph.FieldArray, Required: false},
		},
	}
}

// NormalizeContract returns a well-formed contract for edge: it substitutes
// DefaultContract when edge.Contract is nil or has no fields, otherwise
// clamps the field list to MaxFields and repairs each field in place
// (truncating targetKey/sourcePath/description, coercing unknown types to
// "any").
func NormalizeContract(edge wfgraph.Edge) wfgraph.HandoffContract {
	if edge.Contract == nil || len(edge.Contract.Fields) == 0 {
		return DefaultContract(edge.Handoff)
	}

	c := *edge.Contract
	packetType := strings.TrimSpace(c.PacketType)
	if packetType == "" {
		packetType = wfgraph.Slugify(edge.Handoff, "handoff_packet")
	} else {
		packetType = wfgraph.Slugify(packetType, "handoff_packet")
	}

	fields := c.Fields
	if len(fields) > MaxFields {
		fields = fields[:MaxFields]
	}

	normalized := make([]wfgraph.HandoffField, len(fields))
	for i, f := range fields {
		normalized[i] = normalizeField(f)
	}

	return wfgraph.HandoffContract{PacketType: packetType, Fields: normalized}
}

func normalizeField(f wfgraph.HandoffField) wfgraph.HandoffField {
	f.TargetKey = truncateRunes(strings.TrimSpace(f.TargetKey), maxTargetKeyLen)
	f.SourcePath = truncateRunes(strings.TrimSpace(f.SourcePath), maxSourcePathLen)
	f.Description = truncateRunes(f.Description, maxDescriptionLen)
	if !validFieldTypes[f.Type] {
		f.Type = wfgraph.FieldAny
	}
	return f
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
