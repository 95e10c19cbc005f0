// Package sanitize implements the bounded-depth deep truncation and stable
// JSON preview used everywhere a value crosses into a log payload, an LLM
// prompt, or a handoff packet (spec.md §4.1).
//
// It is the teacher's leaf package in spirit: like graph/emit, it has no
// dependency on any other package in this module, so every other component
// can depend on it without risking an import cycle.
package sanitize

import (
	"encoding/json"
	"sort"
	"strings"
)

// Options configures DeepTruncate. The zero value is invalid; use Default().
type Options struct {
	MaxDepth int
	MaxItems int
	MaxText  int
}

// Default returns the spec's documented defaults: depth 5, 12 items, 4000 chars.
func Default() Options {
	return Options{MaxDepth: 5, MaxItems: 12, MaxText: 4000}
}

// WithMaxText returns a copy of o with MaxText overridden.
func (o Options) WithMaxText(maxText int) Options {
	o.MaxText = maxText
	return o
}

// WithMaxItems returns a copy of o with MaxItems overridden.
func (o Options) WithMaxItems(maxItems int) Options {
	o.MaxItems = maxItems
	return o
}

// WithMaxDepth returns a copy of o with MaxDepth overridden.
func (o Options) WithMaxDepth(maxDepth int) Options {
	o.MaxDepth = maxDepth
	return o
}

// TruncateText truncates s to at most maxChars bytes, ending the result with
// an ellipsis only when the string was actually cut (and maxChars leaves room
// for more than the ellipsis itself). maxChars <= 0 disables truncation.
func TruncateText(s string, maxChars int) string {
	const ellipsis = "…"
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	if maxChars <= len(ellipsis) {
		return s[:maxChars]
	}
	return s[:maxChars-len(ellipsis)] + ellipsis
}

// DeepTruncate recursively normalizes value into a JSON-safe shape, bounding
// recursion depth, container width, and string length per opts.
//
// At the depth limit, containers collapse to {"_truncated": true, "_type":
// "object"} or {"_truncated": true, "_type": "array"}. Lists beyond MaxItems
// append a trailing {"_truncated_items": N} marker; maps beyond MaxItems stop
// early and record {"_truncated_keys": N} (remaining key count) instead of
// emitting a sentinel entry, mirroring the original's early-break behavior.
//
// DeepTruncate is idempotent up to its own truncation markers: re-running it
// on already-truncated output keeps the same strings, list items and map
// keys. A map's "_truncated_keys" marker is carried over as is; a list's
// trailing marker is counted as an item again and replaced by
// {"_truncated_items": 1}.
func DeepTruncate(value any, opts Options) any {
	return deepTruncate(value, opts, 0)
}

func deepTruncate(value any, opts Options, depth int) any {
	if depth >= opts.MaxDepth {
		switch v := value.(type) {
		case map[string]any:
			return map[string]any{"_truncated": true, "_type": "object"}
		case []any:
			return map[string]any{"_truncated": true, "_type": "array"}
		case string:
			return TruncateText(v, opts.MaxText)
		default:
			return value
		}
	}

	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return TruncateText(v, opts.MaxText)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case []any:
		return truncateList(v, opts, depth)
	case map[string]any:
		return truncateMap(v, opts, depth)
	case []string:
		generic := make([]any, len(v))
		for i, s := range v {
			generic[i] = s
		}
		return truncateList(generic, opts, depth)
	default:
		// Anything else (structs, custom types) is rendered through its
		// string form, matching the original's final fallback branch.
		return TruncateText(toDisplayString(v), opts.MaxText)
	}
}

func truncateList(items []any, opts Options, depth int) []any {
	limit := len(items)
	truncated := false
	if limit > opts.MaxItems {
		limit = opts.MaxItems
		truncated = true
	}
	out := make([]any, 0, limit+1)
	for _, item := range items[:limit] {
		out = append(out, deepTruncate(item, opts, depth+1))
	}
	if truncated {
		out = append(out, map[string]any{"_truncated_items": len(items) - opts.MaxItems})
	}
	return out
}

func truncateMap(m map[string]any, opts Options, depth int) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "_truncated_keys" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(keys))
	if prev, ok := m["_truncated_keys"]; ok {
		out["_truncated_keys"] = prev
	}
	for i, k := range keys {
		if i >= opts.MaxItems {
			out["_truncated_keys"] = len(keys) - opts.MaxItems
			break
		}
		out[k] = deepTruncate(m[k], opts, depth+1)
	}
	return out
}

func toDisplayString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// SafeJSONPreview serializes value with sorted keys and stable indentation,
// truncating the result to maxChars (0 means unlimited). Marshal failures
// degrade to a best-effort string form rather than panicking.
func SafeJSONPreview(value any, maxChars int) string {
	b, err := marshalSorted(value, "", "  ")
	var text string
	if err != nil {
		text = toDisplayString(value)
	} else {
		text = string(b)
	}
	if maxChars <= 0 {
		return text
	}
	return TruncateText(text, maxChars)
}

// marshalSorted marshals with indentation; Go's encoding/json already sorts
// map[string]any keys, so no extra pass is required to match the original's
// sort_keys=True behavior.
func marshalSorted(value any, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(value, prefix, indent)
}

// IsTruncationMarker reports whether v is one of DeepTruncate's sentinel
// objects ("_truncated", "_truncated_items", "_truncated_keys"), useful for
// tests asserting idempotence "up to truncation markers" (spec.md §8).
func IsTruncationMarker(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, key := range []string{"_truncated", "_truncated_items", "_truncated_keys"} {
		if _, ok := m[key]; ok && len(m) <= 2 {
			return true
		}
	}
	return false
}

// HasTruncationPrefix reports whether s ends with the ellipsis DeepTruncate
// uses to mark a cut string.
func HasTruncationPrefix(s string) bool {
	return strings.HasSuffix(s, "…")
}
