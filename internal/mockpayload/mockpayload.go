// Package mockpayload builds a synthetic ResponseContext for mocked
// endpoint stages: the mock body is template-resolved, then parsed as
// JSON, then wrapped in the same shape a real invocation would produce so
// the rest of the pipeline (retry, breaker, output binding) proceeds
// unchanged.
package mockpayload

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/templating"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

// Build resolves stageName's mock configuration into a ResponseContext.
// workflowDir anchors a relative payloadFile path.
func Build(stageName string, mock *workflowdoc.MockConfig, expectedStatus *int, workflowDir string, tc execctx.TemplateContext) (*execctx.ResponseContext, error) {
	if mock.Payload != nil && mock.PayloadFile != nil {
		return nil, flowerrors.ErrInvalidMockPayload(stageName, "both payload and payloadFile are set; exactly one is allowed")
	}

	var raw string
	switch {
	case mock.Payload != nil:
		raw = *mock.Payload
	case mock.PayloadFile != nil:
		path := *mock.PayloadFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(workflowDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, flowerrors.ErrInvalidMockPayload(stageName, "could not read payloadFile: "+err.Error())
		}
		raw = string(data)
	default:
		return nil, flowerrors.ErrInvalidMockPayload(stageName, "mock has neither payload nor payloadFile")
	}

	resolved, err := templating.Resolve(raw, tc)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal([]byte(resolved), &parsed); err != nil {
		return nil, flowerrors.ErrInvalidMockPayload(stageName, "mock payload is not valid JSON: "+err.Error())
	}

	status := 200
	if expectedStatus != nil {
		status = *expectedStatus
	}
	if mock.Status != nil {
		status = *mock.Status
	}

	return &execctx.ResponseContext{
		StatusCode: status,
		Body:       resolved,
		Headers:    map[string]string{},
		ParsedJSON: parsed,
	}, nil
}
