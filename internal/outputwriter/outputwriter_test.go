package outputwriter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteEmbedsJSONContainers(t *testing.T) {
	dir := t.TempDir()
	output := map[string]string{
		"id":      "abc",
		"payload": `{"nested":true}`,
		"list":    `[1,2,3]`,
		"scalarN": "42",
	}

	path, err := Write(dir, "My Workflow!", "wf-1", output, true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, "output")) {
		t.Errorf("path = %q, want under %s/output", path, dir)
	}
	if !strings.HasSuffix(path, ".workflow.output") {
		t.Errorf("path = %q, want .workflow.output suffix", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if doc["id"] != "abc" {
		t.Errorf("id = %v, want abc string", doc["id"])
	}
	if _, ok := doc["payload"].(map[string]any); !ok {
		t.Errorf("payload = %v, want embedded object", doc["payload"])
	}
	if _, ok := doc["list"].([]any); !ok {
		t.Errorf("list = %v, want embedded array", doc["list"])
	}
	if doc["scalarN"] != "42" {
		t.Errorf("scalarN = %v, want plain string \"42\"", doc["scalarN"])
	}
}

func TestWriteWithoutEmbedJSONKeepsStrings(t *testing.T) {
	dir := t.TempDir()
	output := map[string]string{"payload": `{"nested":true}`}

	path, err := Write(dir, "wf", "1", output, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := doc["payload"].(string); !ok {
		t.Errorf("payload = %v, want plain string when embedJSON=false", doc["payload"])
	}
}

func TestWriteUniqueFilenamesAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	p1, err := Write(dir, "wf", "1", map[string]string{"a": "1"}, true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	p2, err := Write(dir, "wf", "1", map[string]string{"a": "1"}, true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if p1 == p2 {
		t.Errorf("expected distinct ULID-suffixed filenames, got the same path twice: %s", p1)
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"My Workflow!": "My-Workflow",
		"a/b\\c":       "a-b-c",
		"":             "workflow",
		"already-ok.1": "already-ok.1",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
