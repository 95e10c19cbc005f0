package agentloop

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedReply is returned when a model reply cannot be parsed into a
// Decision by any of ParseDecision's accepted shapes.
var ErrMalformedReply = errors.New("agentloop: malformed decision reply")

// ParseDecision accepts, in order of preference:
//   - bare JSON: {"action": ...}
//   - a ```json fenced block
//   - multiple back-to-back JSON objects (the last one wins)
//   - a JSON object embedded in surrounding noise (first '{' to last '}')
//
// It never returns a partially-populated Decision on failure: a failed
// parse returns the zero Decision and ErrMalformedReply.
func ParseDecision(raw string) (Decision, error) {
	candidates := candidateJSONTexts(raw)
	var last Decision
	found := false
	for _, candidate := range candidates {
		var d Decision
		if err := json.Unmarshal([]byte(candidate), &d); err == nil && d.Action != "" {
			last = d
			found = true
		}
	}
	if !found {
		return Decision{}, ErrMalformedReply
	}
	return last, nil
}

// candidateJSONTexts extracts every plausible top-level JSON object text
// from raw, in document order, so ParseDecision can take "the last dict
// wins" for multiple back-to-back objects.
func candidateJSONTexts(raw string) []string {
	text := raw

	if fenced := extractFenced(text); fenced != "" {
		text = fenced
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Fast path: the whole trimmed text starts with '{' and ends with '}'; it
	// may still hold several back-to-back objects.
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		if objs := splitTopLevelObjects(text); len(objs) > 0 {
			return objs
		}
	}

	// Fallback: slice from the first '{' to the last '}' and try again.
	first := strings.Index(text, "{")
	lastBrace := strings.LastIndex(text, "}")
	if first == -1 || lastBrace == -1 || lastBrace < first {
		return nil
	}
	sliced := text[first : lastBrace+1]
	return splitTopLevelObjects(sliced)
}

func extractFenced(text string) string {
	const openMarker = "```json"
	start := strings.Index(text, openMarker)
	if start == -1 {
		return ""
	}
	rest := text[start+len(openMarker):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// splitTopLevelObjects walks text tracking brace depth (respecting quoted
// strings and escapes) and returns every top-level {...} substring found.
func splitTopLevelObjects(text string) []string {
	var objs []string
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i, r := range text {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					objs = append(objs, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return objs
}

// TruncateForRetry bounds a raw reply embedded in a corrective retry
// message to 4 KB, per spec.md §4.6.
func TruncateForRetry(raw string) string {
	const maxBytes = 4096
	if len(raw) <= maxBytes {
		return raw
	}
	return raw[:maxBytes]
}
