package handoff

import "strings"

// JSONPathGet resolves a dotted sourcePath against data. The path segments
// "." , "$", and "output" (alone) address the root value. A leading
// "output." prefix is stripped before segment walking begins. Each segment
// descends through map[string]any keys or, when the current value is a
// slice and the segment parses as a non-negative integer, through slice
// indices.
//
// Ported from the original's `_json_path_get`.
func JSONPathGet(data any, sourcePath string) (value any, found bool) {
	path := strings.TrimSpace(sourcePath)
	switch path {
	case "", ".", "$", "output":
		return data, true
	}

	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	path = strings.TrimPrefix(path, "output.")

	if path == "" {
		return data, true
	}

	current := data
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		switch typed := current.(type) {
		case map[string]any:
			v, ok := typed[segment]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			idx, ok := parseIndex(segment)
			if !ok || idx < 0 || idx >= len(typed) {
				return nil, false
			}
			current = typed[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func parseIndex(segment string) (int, bool) {
	if segment == "" {
		return 0, false
	}
	n := 0
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
