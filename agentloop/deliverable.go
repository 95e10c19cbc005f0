package agentloop

import (
	"errors"
	"strings"
)

var (
	errEmptyPath     = errors.New("agentloop: code bundle path must not be empty")
	errAbsolutePath  = errors.New("agentloop: code bundle path must be relative")
	errUnsafeSegment = errors.New("agentloop: code bundle path must not contain . or .. segments")
)

// codeBundleHints are the substrings (case-insensitive) that mark a
// requested deliverable name as expecting a code-bundle payload
// (spec.md §4.6).
var codeBundleHints = []string{"code", "app", "bundle", "source", "repo"}

// requiresCodeBundle reports whether name looks like it names a code
// deliverable, matching case-insensitively against codeBundleHints.
func requiresCodeBundle(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range codeBundleHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// CodeBundle is the validated {files: {relativePath: content}} shape a
// code-bundle deliverable must extract to.
type CodeBundle struct {
	Files map[string]string
}

// extractCodeBundle validates that raw is an object with a "files" map of
// relativePath -> string content, sanitizing each path. Returns false when
// raw does not extract as a code bundle.
func extractCodeBundle(raw any) (CodeBundle, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return CodeBundle{}, false
	}
	rawFiles, ok := m["files"].(map[string]any)
	if !ok || len(rawFiles) == 0 {
		return CodeBundle{}, false
	}

	files := make(map[string]string, len(rawFiles))
	for path, content := range rawFiles {
		safePath, err := sanitizeCodeBundlePath(path)
		if err != nil {
			continue
		}
		text, ok := content.(string)
		if !ok {
			continue
		}
		files[safePath] = text
	}
	if len(files) == 0 {
		return CodeBundle{}, false
	}
	return CodeBundle{Files: files}, true
}

// sanitizeCodeBundlePath rejects absolute paths and "."/".." segments.
func sanitizeCodeBundlePath(raw string) (string, error) {
	if raw == "" {
		return "", errEmptyPath
	}
	if strings.HasPrefix(raw, "/") {
		return "", errAbsolutePath
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == "." || seg == ".." || seg == "" {
			return "", errUnsafeSegment
		}
	}
	return raw, nil
}

// missingCodeBundleDeliverables checks each requested deliverable name that
// looks like a code bundle against data.deliverables, returning the names
// that are absent or fail to extract as a code bundle.
func missingCodeBundleDeliverables(requested []string, data map[string]any) []string {
	var missing []string
	deliverables, _ := data["deliverables"].(map[string]any)

	for _, name := range requested {
		if !requiresCodeBundle(name) {
			continue
		}
		if deliverables == nil {
			missing = append(missing, name)
			continue
		}
		raw, ok := lookupCaseSensitive(deliverables, name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		if _, ok := extractCodeBundle(raw); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func lookupCaseSensitive(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}
