package workspace

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// UploadedFile is the materialization record for one entry found inside a
// run's inputs value graph.
type UploadedFile struct {
	SourceKey   string `json:"sourceKey"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	SizeBytes   int    `json:"sizeBytes"`
	Truncated   bool   `json:"truncated"`
	DecodeError string `json:"decodeError,omitempty"`
}

const maxMaterializedBytes = 5 << 20 // 5 MiB ceiling per uploaded file

// looksLikeUploadedFile reports whether v has the {name, (mimeType|kind|content)}
// shape the inputs scanner treats as an uploaded file.
func looksLikeUploadedFile(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasName := m["name"]
	if !hasName {
		return false
	}
	_, hasMime := m["mimeType"]
	_, hasKind := m["kind"]
	_, hasContent := m["content"]
	return hasMime || hasKind || hasContent
}

// MaterializeUploads scans inputs for uploaded-file-shaped entries and
// writes each one under dir (typically Layout.UserUploads), returning a
// record per file written. Name collisions within dir are resolved by
// appending "_2", "_3", … before the extension. A sidecar
// "<name>.upload_meta.json" is written whenever content was truncated or
// decoding did not fully succeed.
func (m *Manager) MaterializeUploads(dir string, inputs map[string]any) ([]UploadedFile, error) {
	var files []UploadedFile
	used := make(map[string]int)

	for key, v := range inputs {
		if looksLikeUploadedFile(v) {
			rec, err := m.materializeOne(dir, key, v.(map[string]any), used)
			if err != nil {
				return nil, err
			}
			files = append(files, rec)
			continue
		}
		if list, ok := v.([]any); ok {
			for i, item := range list {
				if looksLikeUploadedFile(item) {
					rec, err := m.materializeOne(dir, fmt.Sprintf("%s[%d]", key, i), item.(map[string]any), used)
					if err != nil {
						return nil, err
					}
					files = append(files, rec)
				}
			}
		}
	}
	return files, nil
}

func (m *Manager) materializeOne(dir, sourceKey string, entry map[string]any, used map[string]int) (UploadedFile, error) {
	name, _ := entry["name"].(string)
	safeName := SanitizeName(name, "upload")
	kind, _ := entry["kind"].(string)

	var data []byte
	var decodeErr string
	truncated := false

	switch {
	case kind == "text":
		content, _ := entry["content"].(string)
		data = []byte(content)
	case kind == "data_url":
		content, _ := entry["content"].(string)
		decoded, derr := decodeDataURL(content)
		if derr != nil {
			decodeErr = derr.Error()
			data = []byte(content)
		} else {
			data = decoded
		}
	default:
		if content, ok := entry["content"].(string); ok {
			data = []byte(content)
		} else {
			placeholder := fmt.Sprintf(`{"_placeholder": true, "reason": "unrecognized upload kind %q", "name": %q}`, kind, name)
			data = []byte(placeholder)
			safeName += ".json"
			decodeErr = "unrecognized upload kind"
		}
	}

	if len(data) > maxMaterializedBytes {
		data = data[:maxMaterializedBytes]
		truncated = true
	}

	finalName := dedupeName(safeName, used)
	path := filepath.Join(dir, finalName)
	if err := writeBytes(path, data); err != nil {
		return UploadedFile{}, err
	}

	rec := UploadedFile{
		SourceKey: sourceKey,
		Name:      finalName,
		Path:      path,
		Kind:      kind,
		SizeBytes: len(data),
		Truncated: truncated,
	}
	if decodeErr != "" {
		rec.DecodeError = decodeErr
	}

	if truncated || decodeErr != "" {
		meta := map[string]any{
			"truncated":   truncated,
			"decodeError": decodeErr,
			"sourceKey":   sourceKey,
			"originalName": name,
		}
		if err := writeJSON(path+".upload_meta.json", meta); err != nil {
			return UploadedFile{}, err
		}
	}

	return rec, nil
}

func dedupeName(name string, used map[string]int) string {
	count := used[name]
	used[name] = count + 1
	if count == 0 {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + "_" + strconv.Itoa(count+1) + ext
}

// decodeDataURL parses a "data:[<mediatype>][;base64],<data>" URL, returning
// decoded bytes for base64 payloads or URL-decoded bytes otherwise.
func decodeDataURL(raw string) ([]byte, error) {
	if !strings.HasPrefix(raw, "data:") {
		return nil, fmt.Errorf("not a data URL")
	}
	rest := strings.TrimPrefix(raw, "data:")
	comma := strings.Index(rest, ",")
	if comma == -1 {
		return nil, fmt.Errorf("malformed data URL: no comma")
	}
	header := rest[:comma]
	payload := rest[comma+1:]

	if strings.Contains(header, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		return decoded, nil
	}

	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("url decode: %w", err)
	}
	return []byte(decoded), nil
}
