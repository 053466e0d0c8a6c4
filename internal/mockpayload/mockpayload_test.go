package mockpayload

import (
	"testing"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

func TestBuildFromLiteralPayload(t *testing.T) {
	payload := `{"id":"{{input.taskId}}"}`
	mock := &workflowdoc.MockConfig{Payload: &payload}
	tc := execctx.TemplateContext{Inputs: map[string]string{"taskId": "T-1"}}

	resp, err := Build("s1", mock, nil, "/tmp", tc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200 default", resp.StatusCode)
	}
	if resp.Body != `{"id":"T-1"}` {
		t.Errorf("body = %q", resp.Body)
	}
	m, ok := resp.ParsedJSON.(map[string]any)
	if !ok || m["id"] != "T-1" {
		t.Errorf("parsed JSON = %v", resp.ParsedJSON)
	}
}

func TestBuildStatusPrecedence(t *testing.T) {
	payload := `{}`
	expected := 201
	status := 418
	mock := &workflowdoc.MockConfig{Payload: &payload, Status: &status}

	resp, err := Build("s1", mock, &expected, "/tmp", execctx.TemplateContext{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if resp.StatusCode != 418 {
		t.Errorf("status = %d, want mock.status 418 to win over expectedStatus", resp.StatusCode)
	}
}

func TestBuildBothSetIsError(t *testing.T) {
	payload := `{}`
	file := "x.json"
	mock := &workflowdoc.MockConfig{Payload: &payload, PayloadFile: &file}
	if _, err := Build("s1", mock, nil, "/tmp", execctx.TemplateContext{}); err == nil {
		t.Error("expected InvalidMockPayload when both payload and payloadFile set")
	}
}

func TestBuildInvalidJSON(t *testing.T) {
	payload := `not json`
	mock := &workflowdoc.MockConfig{Payload: &payload}
	if _, err := Build("s1", mock, nil, "/tmp", execctx.TemplateContext{}); err == nil {
		t.Error("expected InvalidMockPayload for non-JSON payload")
	}
}
