package handoff

import (
	"strconv"
	"strings"

	"github.com/dshills/workflow-run-engine/sanitize"
	"github.com/dshills/workflow-run-engine/wfgraph"
)

// CoerceValue converts value into fieldType using the total, deterministic
// rules spec.md §4.4 names. There is no error return: every input maps to
// some output. A nil value (a missing or unresolved field) always coerces
// to nil, regardless of fieldType — matching the original's
// `if value is None: return None` guard ahead of its own type branches.
//
// Ported from the original's `_coerce_handoff_value`.
func CoerceValue(value any, fieldType wfgraph.FieldType) any {
	if value == nil {
		return nil
	}
	switch fieldType {
	case wfgraph.FieldAny, wfgraph.FieldJSON:
		return value
	case wfgraph.FieldString:
		return coerceString(value)
	case wfgraph.FieldNumber:
		return coerceNumber(value)
	case wfgraph.FieldBoolean:
		return coerceBoolean(value)
	case wfgraph.FieldArray:
		return coerceArray(value)
	case wfgraph.FieldObject:
		return coerceObject(value)
	default:
		return value
	}
}

// coerceString is only ever reached with a non-nil value; CoerceValue
// short-circuits nil before dispatching here.
func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return toStringFallback(v)
	}
}

func coerceNumber(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case int:
		return v
	case int64:
		return v
	case float64:
		return v
	case float32:
		return float64(v)
	case string:
		if !strings.Contains(v, ".") {
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		return nil
	default:
		return nil
	}
}

func coerceBoolean(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y":
			return true
		case "false", "0", "no", "n":
			return false
		default:
			return false
		}
	default:
		return false
	}
}

func coerceArray(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	default:
		return []any{v}
	}
}

func toStringFallback(v any) string {
	return sanitize.SafeJSONPreview(v, 0)
}

func coerceObject(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}
