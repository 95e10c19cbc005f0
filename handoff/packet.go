package handoff

import (
	"fmt"
	"time"

	"github.com/dshills/workflow-run-engine/sanitize"
	"github.com/dshills/workflow-run-engine/wfgraph"
)

// BuildPacket assembles a HandoffPacket from edge and the source node's
// output, per spec.md §4.4's four-step algorithm: normalize the contract,
// resolve each field's sourcePath against output, coerce to the declared
// type, and compute summary as the first non-empty of payload.summary,
// output.Summary, or a synthesized fallback.
//
// Required fields whose sourcePath is missing, or resolves to null or an
// empty string, are recorded in MissingRequiredFields but never abort packet
// construction — the packet is always emitted so downstream nodes can react
// to the gap.
func BuildPacket(edge wfgraph.Edge, output wfgraph.NodeOutput, fromNode, toNode wfgraph.Node, now time.Time) wfgraph.HandoffPacket {
	contract := NormalizeContract(edge)

	source := outputAsMap(output)

	payload := make(map[string]any, len(contract.Fields))
	resolutions := make([]wfgraph.HandoffFieldResolution, 0, len(contract.Fields))
	var missing []string

	for _, field := range contract.Fields {
		raw, found := JSONPathGet(source, field.SourcePath)
		if field.Required && (!found || raw == nil || raw == "") {
			missing = append(missing, field.TargetKey)
		}

		var coerced any
		if found {
			coerced = CoerceValue(raw, field.Type)
		} else {
			coerced = CoerceValue(nil, field.Type)
		}
		payload[field.TargetKey] = sanitizeValue(coerced)

		resolutions = append(resolutions, wfgraph.HandoffFieldResolution{
			TargetKey:   field.TargetKey,
			SourcePath:  field.SourcePath,
			Type:        field.Type,
			Required:    field.Required,
			Resolved:    found,
			Description: field.Description,
		})
	}

	summary := firstNonEmpty(
		stringField(payload["summary"]),
		output.Summary,
		fmt.Sprintf("Handoff from %s to %s.", displayName(fromNode), displayName(toNode)),
	)
	summary = sanitize.TruncateText(summary, maxSummaryLen)

	return wfgraph.HandoffPacket{
		ID:                    wfgraph.NewHandoffID(),
		Label:                 edge.Handoff,
		PacketType:            contract.PacketType,
		FromNodeID:            edge.Source,
		FromNodeName:          fromNode.Name,
		ToNodeID:              edge.Target,
		ToNodeName:            toNode.Name,
		Summary:               summary,
		Payload:               payload,
		Schema:                wfgraph.HandoffPacketSchema{Fields: resolutions},
		MissingRequiredFields: missing,
		GeneratedAt:           now,
	}
}

// sanitizeValue runs every string reachable inside v through the sanitizer
// before it is stored in a packet (spec.md §4.4 step 5).
func sanitizeValue(v any) any {
	switch typed := v.(type) {
	case string:
		return sanitize.TruncateText(typed, sanitize.Default().MaxText)
	case map[string]any:
		return sanitize.DeepTruncate(typed, sanitize.Default())
	case []any:
		return sanitize.DeepTruncate(typed, sanitize.Default())
	default:
		return v
	}
}

func outputAsMap(output wfgraph.NodeOutput) map[string]any {
	details := output.Details
	if details == nil {
		details = map[string]any{}
	}
	data := output.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"summary": output.Summary,
		"details": details,
		"data":    data,
	}
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func displayName(n wfgraph.Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}
