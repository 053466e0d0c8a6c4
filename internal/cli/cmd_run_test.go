package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

func testDoc() *workflowdoc.WorkflowDocument {
	return &workflowdoc.WorkflowDocument{
		Definition: &workflowdoc.WorkflowDefinition{
			Version: "v1",
			Name:    "charge",
		},
	}
}

func TestResolveTopLevelInputs_NoVarsfile(t *testing.T) {
	t.Parallel()
	inputs, err := resolveTopLevelInputs(testDoc(), "test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inputs) != 0 {
		t.Errorf("expected empty inputs, got %v", inputs)
	}
}

func TestResolveTopLevelInputs_RejectsWrongExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "charge.yaml")
	if err := os.WriteFile(path, []byte("global:\nfoo: bar\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := resolveTopLevelInputs(testDoc(), "test", path)
	if err == nil {
		t.Fatal("expected an error for a non-.wfvars --varsfile path")
	}
	fe := flowerrors.AsFlowError(err)
	if fe == nil {
		t.Fatalf("expected a *FlowError, got %v", err)
	}
	if fe.Code != flowerrors.CodeInvalidVarsFilePath {
		t.Errorf("Code = %v, want %v", fe.Code, flowerrors.CodeInvalidVarsFilePath)
	}
}

func TestResolveTopLevelInputs_AcceptsWfvarsExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "charge.wfvars")
	if err := os.WriteFile(path, []byte("global:\nfoo: bar\n"), 0644); err != nil {
		t.Fatal(err)
	}

	inputs, err := resolveTopLevelInputs(testDoc(), "test", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inputs["foo"] != "bar" {
		t.Errorf("inputs[foo] = %q, want %q", inputs["foo"], "bar")
	}
}
