package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith/flowctl/internal/apicatalog"
	"github.com/flowsmith/flowctl/internal/clock"
	"github.com/flowsmith/flowctl/internal/execctx"
	"github.com/flowsmith/flowctl/internal/flowerrors"
	"github.com/flowsmith/flowctl/internal/invoker"
	"github.com/flowsmith/flowctl/internal/workflowdoc"
)

func intPtr(i int) *int { return &i }

func testCatalog() *apicatalog.Catalog {
	return &apicatalog.Catalog{
		Versions: []apicatalog.Version{
			{
				Version: "v1",
				BaseURL: map[string]string{"test": "https://api.test.invalid"},
				Definitions: []apicatalog.APIDefinition{
					{Name: "billing", BasePath: "/billing"},
				},
			},
		},
	}
}

func baseDoc(stages []workflowdoc.WorkflowStage) *workflowdoc.WorkflowDocument {
	return &workflowdoc.WorkflowDocument{
		FilePath: "/flows/charge.yaml",
		Definition: &workflowdoc.WorkflowDefinition{
			Version: "v1",
			ID:      "wf-1",
			Name:    "charge",
			References: workflowdoc.References{
				APIs: []workflowdoc.APIReference{{Name: "billing", Definition: "billing"}},
			},
			Stages: stages,
			EndStage: workflowdoc.EndStage{
				Output: map[string]string{"status": "{{stage.charge.output.http_status}}"},
			},
		},
	}
}

func TestHappyPathSingleStage(t *testing.T) {
	fake := &invoker.FakeInvoker{
		Script: []invoker.FakeResponse{
			{Response: &execctx.ResponseContext{StatusCode: 200, Body: `{"id":"ch_1"}`, ParsedJSON: map[string]any{"id": "ch_1"}}},
		},
	}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})

	doc := baseDoc([]workflowdoc.WorkflowStage{
		{
			Name: "charge",
			Kind: workflowdoc.KindEndpoint,
			Endpoint: &workflowdoc.EndpointStage{
				APIRef:         "billing",
				Endpoint:       "/charges",
				HTTPVerb:       "POST",
				ExpectedStatus: intPtr(200),
				Output:         map[string]string{"id": "{{response.id}}"},
			},
		},
	})

	result, err := e.Run(context.Background(), doc, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, "200", result.Output["status"])
	assert.Len(t, fake.Calls, 1)
	assert.Equal(t, "https://api.test.invalid/billing/charges", fake.Calls[0].URL)
}

func TestRetryUntilSuccess(t *testing.T) {
	fake := &invoker.FakeInvoker{
		Script: []invoker.FakeResponse{
			{Response: &execctx.ResponseContext{StatusCode: 503}},
			{Response: &execctx.ResponseContext{StatusCode: 503}},
			{Response: &execctx.ResponseContext{StatusCode: 200, Body: `{}`, ParsedJSON: map[string]any{}}},
		},
	}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Now()})

	doc := baseDoc([]workflowdoc.WorkflowStage{
		{
			Name: "charge",
			Kind: workflowdoc.KindEndpoint,
			Endpoint: &workflowdoc.EndpointStage{
				APIRef:         "billing",
				Endpoint:       "/charges",
				HTTPVerb:       "POST",
				ExpectedStatus: intPtr(200),
				Retry: &workflowdoc.RetryPolicy{
					MaxRetries: intPtr(3),
					DelayMs:    intPtr(0),
					HTTPStatus: []int{503},
				},
			},
		},
	})

	_, err := e.Run(context.Background(), doc, "test", nil)
	require.NoError(t, err)
	assert.Len(t, fake.Calls, 3)
}

func TestRetryExhaustedOnException(t *testing.T) {
	boom := assertError("boom")
	fake := &invoker.FakeInvoker{
		Script: []invoker.FakeResponse{
			{Err: boom},
			{Err: boom},
		},
	}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Now()})

	doc := baseDoc([]workflowdoc.WorkflowStage{
		{
			Name: "charge",
			Kind: workflowdoc.KindEndpoint,
			Endpoint: &workflowdoc.EndpointStage{
				APIRef:         "billing",
				Endpoint:       "/charges",
				HTTPVerb:       "POST",
				ExpectedStatus: intPtr(200),
				Retry: &workflowdoc.RetryPolicy{
					MaxRetries: intPtr(1),
					DelayMs:    intPtr(0),
					HTTPStatus: []int{503},
				},
			},
		},
	})

	_, err := e.Run(context.Background(), doc, "test", nil)
	require.Error(t, err)
	assert.Len(t, fake.Calls, 2)
}

func TestCircuitBreakerBlocksSecondStage(t *testing.T) {
	fake := &invoker.FakeInvoker{
		Script: []invoker.FakeResponse{
			{Response: &execctx.ResponseContext{StatusCode: 503}},
		},
	}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Now()})

	endpoint := &workflowdoc.EndpointStage{
		APIRef:         "billing",
		Endpoint:       "/charges",
		HTTPVerb:       "POST",
		ExpectedStatus: intPtr(503), // matches the scripted status, so stage 1 itself does not error
		Retry: &workflowdoc.RetryPolicy{
			MaxRetries: intPtr(0),
			DelayMs:    intPtr(0),
			HTTPStatus: []int{503},
		},
		CircuitBreaker: &workflowdoc.CircuitBreakerPolicy{
			Ref:              "billing-breaker",
			FailureThreshold: intPtr(1),
			BreakMs:          intPtr(60_000),
		},
	}
	doc := baseDoc([]workflowdoc.WorkflowStage{
		{Name: "charge", Kind: workflowdoc.KindEndpoint, Endpoint: endpoint},
		{Name: "charge2", Kind: workflowdoc.KindEndpoint, Endpoint: endpoint},
	})
	doc.Definition.EndStage = workflowdoc.EndStage{}

	_, err := e.Run(context.Background(), doc, "test", nil)
	require.Error(t, err)
	fe := flowerrors.AsFlowError(err)
	require.NotNil(t, fe)
	assert.Equal(t, flowerrors.CodeCircuitOpen, fe.Code)
	assert.Len(t, fake.Calls, 1, "second stage must be blocked by the breaker, never invoked")
}

func TestMockedSelfJumpRejected(t *testing.T) {
	fake := &invoker.FakeInvoker{}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Now()}, WithMocked(true))

	doc := baseDoc([]workflowdoc.WorkflowStage{
		{
			Name: "poll",
			Kind: workflowdoc.KindEndpoint,
			Endpoint: &workflowdoc.EndpointStage{
				APIRef:         "billing",
				Endpoint:       "/poll",
				HTTPVerb:       "GET",
				ExpectedStatus: intPtr(202),
				Mock: &workflowdoc.MockConfig{
					Payload: strPtr(`{}`),
					Status:  intPtr(202),
				},
				JumpOnStatus: map[int]string{202: "poll"},
			},
		},
	})
	doc.Definition.EndStage = workflowdoc.EndStage{}

	_, err := e.Run(context.Background(), doc, "test", nil)
	require.Error(t, err)
	fe := flowerrors.AsFlowError(err)
	require.NotNil(t, fe)
	assert.Equal(t, flowerrors.CodeMockedSelfJump, fe.Code)
}

func TestRunIfSkipsStage(t *testing.T) {
	fake := &invoker.FakeInvoker{}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Now()})

	doc := baseDoc([]workflowdoc.WorkflowStage{
		{
			Name:  "skipped",
			Kind:  workflowdoc.KindEndpoint,
			RunIf: `{{input.region}} in [1, 2]`,
			Endpoint: &workflowdoc.EndpointStage{
				APIRef:         "billing",
				Endpoint:       "/charges",
				HTTPVerb:       "POST",
				ExpectedStatus: intPtr(200),
			},
		},
	})
	doc.Definition.EndStage = workflowdoc.EndStage{}

	result, err := e.Run(context.Background(), doc, "test", map[string]string{"region": "us"})
	require.NoError(t, err)
	assert.Empty(t, fake.Calls, "runIf should have skipped the only stage")
	assert.Empty(t, result.Output)
}

// TestNestedWorkflowInheritsContext exercises spec scenario 6: a Workflow
// stage with no inputs of its own falls back to a sibling ".wfvars" file for
// inputs, and the child invocation inherits a copy of the parent's context
// map rather than sharing it live.
func TestNestedWorkflowInheritsContext(t *testing.T) {
	dir := t.TempDir()
	nestedPath := filepath.Join(dir, "nested.yaml")
	nestedYAML := `
version: v1
id: wf-nested
name: nested
references:
  apis:
    - name: billing
      definition: billing
stages:
  - name: charge
    kind: Endpoint
    apiRef: billing
    endpoint: /charges
    httpVerb: POST
    expectedStatus: 200
endStage:
  output:
    status: "{{stage.charge.output.http_status}}"
    ctxval: "{{context.shared}}"
    inputval: "{{input.foo}}"
  result:
    message: "nested ok"
`
	require.NoError(t, os.WriteFile(nestedPath, []byte(nestedYAML), 0644))

	wfvarsPath := filepath.Join(dir, "nested.wfvars")
	require.NoError(t, os.WriteFile(wfvarsPath, []byte("global:\nfoo: bar\n"), 0644))

	fake := &invoker.FakeInvoker{
		Script: []invoker.FakeResponse{
			{Response: &execctx.ResponseContext{StatusCode: 200, Body: `{}`, ParsedJSON: map[string]any{}}},
		},
	}
	e := New(testCatalog(), fake, clock.Fixed{At: time.Now()})

	doc := &workflowdoc.WorkflowDocument{
		FilePath: filepath.Join(dir, "parent.yaml"),
		Definition: &workflowdoc.WorkflowDefinition{
			Version: "v1",
			ID:      "wf-parent",
			Name:    "parent",
			References: workflowdoc.References{
				Workflows: []workflowdoc.WorkflowReference{{Name: "nested", Path: nestedPath}},
			},
			InitStage: workflowdoc.InitStage{
				Context: map[string]string{"shared": "parentval"},
			},
			Stages: []workflowdoc.WorkflowStage{
				{
					Name:     "child",
					Kind:     workflowdoc.KindWorkflow,
					Workflow: &workflowdoc.WorkflowStageRef{WorkflowRef: "nested"},
				},
			},
			EndStage: workflowdoc.EndStage{
				Output: map[string]string{
					"status":  "{{stage.child.output.status}}",
					"ctxval":  "{{stage.child.output.ctxval}}",
					"input":   "{{stage.child.output.inputval}}",
					"message": "{{stage.child.workflow.result.message}}",
				},
			},
		},
	}

	result, err := e.Run(context.Background(), doc, "test", nil)
	require.NoError(t, err)
	assert.Len(t, fake.Calls, 1, "nested stage's own endpoint must be invoked exactly once")
	assert.Equal(t, "Ok", result.Output["status"], "stage.<name>.output.status reads the nested workflow's result status first")
	assert.Equal(t, "parentval", result.Output["ctxval"], "child must inherit a copy of the parent's context")
	assert.Equal(t, "bar", result.Output["input"], "child must fall back to the sibling .wfvars file for its own inputs")
	assert.Equal(t, "nested ok", result.Output["message"])
}

func strPtr(s string) *string { return &s }

type assertError string

func (e assertError) Error() string { return string(e) }
