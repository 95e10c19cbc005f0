package handoff

import (
	"testing"
	"time"

	"github.com/dshills/workflow-run-engine/wfgraph"
)

func TestDefaultContractShape(t *testing.T) {
	c := DefaultContract("Research findings")
	if c.PacketType != "research_findings" {
		t.Fatalf("want slugified packet type, got %q", c.PacketType)
	}
	if len(c.Fields) != 3 {
		t.Fatalf("want 3 default fields, got %d", len(c.Fields))
	}
	if c.Fields[0].TargetKey != "summary" || !c.Fields[0].Required {
		t.Fatalf("want required summary field first, got %#v", c.Fields[0])
	}
	if c.Fields[2].TargetKey != "workspaceRefs" || c.Fields[2].Type != wfgraph.FieldArray {
		t.Fatalf("want workspaceRefs array field third, got %#v", c.Fields[2])
	}
}

func TestNormalizeContractClampsFieldsAndType(t *testing.T) {
	fields := make([]wfgraph.HandoffField, 25)
	for i := range fields {
		fields[i] = wfgraph.HandoffField{TargetKey: "k", SourcePath: "p", Type: "bogus"}
	}
	edge := wfgraph.Edge{Handoff: "x", Contract: &wfgraph.HandoffContract{Fields: fields}}

	c := NormalizeContract(edge)
	if len(c.Fields) != MaxFields {
		t.Fatalf("want clamp to %d fields, got %d", MaxFields, len(c.Fields))
	}
	for _, f := range c.Fields {
		if f.Type != wfgraph.FieldAny {
			t.Fatalf("want unknown type coerced to any, got %q", f.Type)
		}
	}
}

func TestJSONPathGetRootAndNested(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": []any{10, 20}}}

	if v, ok := JSONPathGet(data, "."); !ok || v.(map[string]any)["a"] == nil {
		t.Fatalf("want root resolution, got %#v, %v", v, ok)
	}
	if v, ok := JSONPathGet(data, "output.a.b.1"); !ok || v != 20 {
		t.Fatalf("want 20 via output-prefixed path, got %#v, %v", v, ok)
	}
	if _, ok := JSONPathGet(data, "a.missing"); ok {
		t.Fatal("want missing path to report not found")
	}
}

func TestCoerceValueRules(t *testing.T) {
	if CoerceValue(true, wfgraph.FieldNumber) != 1 {
		t.Fatal("want bool true -> 1")
	}
	if CoerceValue("42", wfgraph.FieldNumber) != int64(42) {
		t.Fatalf("want string int parse, got %#v", CoerceValue("42", wfgraph.FieldNumber))
	}
	if CoerceValue("3.5", wfgraph.FieldNumber) != 3.5 {
		t.Fatalf("want string float parse, got %#v", CoerceValue("3.5", wfgraph.FieldNumber))
	}
	if CoerceValue("not-a-number", wfgraph.FieldNumber) != nil {
		t.Fatal("want non-convertible number -> nil")
	}
	if CoerceValue("YES", wfgraph.FieldBoolean) != true {
		t.Fatal("want case-insensitive yes -> true")
	}
	if CoerceValue("n", wfgraph.FieldBoolean) != false {
		t.Fatal("want n -> false")
	}
	arr := CoerceValue("solo", wfgraph.FieldArray).([]any)
	if len(arr) != 1 || arr[0] != "solo" {
		t.Fatalf("want non-list wrapped, got %#v", arr)
	}
	obj := CoerceValue(42, wfgraph.FieldObject).(map[string]any)
	if obj["value"] != 42 {
		t.Fatalf("want non-map wrapped under value key, got %#v", obj)
	}
}

// TestCoerceValueNilIsUniformAcrossTypes asserts spec.md §4.4's "missing
// value coerces to null" rule holds regardless of the field's declared
// type: a missing boolean/array/object must not silently become
// false/[]/{} — only a real false/[]/{} value should produce those.
func TestCoerceValueNilIsUniformAcrossTypes(t *testing.T) {
	for _, ft := range []wfgraph.FieldType{
		wfgraph.FieldString, wfgraph.FieldNumber, wfgraph.FieldBoolean,
		wfgraph.FieldArray, wfgraph.FieldObject, wfgraph.FieldAny, wfgraph.FieldJSON,
	} {
		if got := CoerceValue(nil, ft); got != nil {
			t.Fatalf("CoerceValue(nil, %q) = %#v, want nil", ft, got)
		}
	}
}

func TestBuildPacketMissingRequiredIsNonFatal(t *testing.T) {
	edge := wfgraph.Edge{Source: "n1", Target: "n2", Handoff: "findings"}
	from := wfgraph.Node{ID: "n1", Name: "Researcher"}
	to := wfgraph.Node{ID: "n2", Name: "Writer"}
	output := wfgraph.NodeOutput{} // empty summary: "summary" field will be missing

	pkt := BuildPacket(edge, output, from, to, time.Now())

	if len(pkt.MissingRequiredFields) != 1 || pkt.MissingRequiredFields[0] != "summary" {
		t.Fatalf("want summary recorded missing, got %v", pkt.MissingRequiredFields)
	}
	if pkt.Summary != "Handoff from Researcher to Writer." {
		t.Fatalf("want synthesized summary, got %q", pkt.Summary)
	}
	if _, ok := pkt.Payload["summary"]; !ok {
		t.Fatal("want payload to still contain every contract target key")
	}
}

func TestBuildPacketUsesOutputSummary(t *testing.T) {
	edge := wfgraph.Edge{Source: "n1", Target: "n2", Handoff: "findings"}
	from := wfgraph.Node{ID: "n1", Name: "Researcher"}
	to := wfgraph.Node{ID: "n2", Name: "Writer"}
	output := wfgraph.NodeOutput{Summary: "Found three sources."}

	pkt := BuildPacket(edge, output, from, to, time.Now())
	if pkt.Summary != "Found three sources." {
		t.Fatalf("want source output summary, got %q", pkt.Summary)
	}
	if pkt.Payload["summary"] != "Found three sources." {
		t.Fatalf("want summary field resolved from output.summary, got %#v", pkt.Payload["summary"])
	}
}

func TestBuildPacketPayloadKeysAreContractFieldUnion(t *testing.T) {
	edge := wfgraph.Edge{Source: "n1", Target: "n2", Handoff: "findings"}
	from := wfgraph.Node{ID: "n1"}
	to := wfgraph.Node{ID: "n2"}
	output := wfgraph.NodeOutput{Summary: "s", Details: map[string]any{"k": "v"}}

	pkt := BuildPacket(edge, output, from, to, time.Now())
	contract := DefaultContract(edge.Handoff)
	if len(pkt.Payload) != len(contract.Fields) {
		t.Fatalf("want payload keys == contract fields, got %d vs %d", len(pkt.Payload), len(contract.Fields))
	}
	for _, f := range contract.Fields {
		if _, ok := pkt.Payload[f.TargetKey]; !ok {
			t.Fatalf("want payload key %q present", f.TargetKey)
		}
	}
}
