// Package outputwriter serializes a workflow's end-stage output map into the
// on-disk JSON artifact, writing it atomically via internal/util.
package outputwriter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/flowsmith/flowctl/internal/util"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName collapses any run of characters unsafe for a filename into a
// single hyphen.
func SafeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "workflow"
	}
	return s
}

// Write renders output as pretty-printed JSON under
// <workflowDir>/output/<safeName>.<id>.<ulid>.workflow.output and returns the
// path written. Values that parse as a JSON object or array are embedded as
// parsed JSON rather than as strings whenever embedJSON is true.
func Write(workflowDir, name, id string, output map[string]string, embedJSON bool) (string, error) {
	doc := make(map[string]any, len(output))
	for k, v := range output {
		if embedJSON {
			if parsed, ok := tryParseJSONContainer(v); ok {
				doc[k] = parsed
				continue
			}
		}
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal output: %w", err)
	}

	filename := fmt.Sprintf("%s.%s.%s.workflow.output", SafeName(name), SafeName(id), ulid.Make().String())
	path := filepath.Join(workflowDir, "output", filename)

	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write output artifact: %w", err)
	}
	return path, nil
}

// tryParseJSONContainer parses s as JSON, returning ok only when the
// top-level value is an object or array — scalars (numbers, strings,
// booleans parsed from plain text) are left as plain strings.
func tryParseJSONContainer(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, false
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return v, true
}
