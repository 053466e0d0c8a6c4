// Package execctx holds the mutable state of one workflow invocation and
// the template-context snapshot built from it at each resolution site.
package execctx

import (
	"time"

	"github.com/flowsmith/flowctl/internal/clock"
)

// ResultStatus is the outcome recorded for a completed nested workflow
// invocation.
type ResultStatus string

const (
	ResultOk    ResultStatus = "Ok"
	ResultError ResultStatus = "Error"
)

// WorkflowResult is what a parent observes after a nested Workflow stage
// returns.
type WorkflowResult struct {
	Status  ResultStatus
	Message string
}

// CircuitBreakerState is the three-state breaker state machine: Closed,
// Open (until OpenUntil), HalfOpen. It is not a thread pool or a library
// dependency — just a timer and two counters, matching the design note
// that the breaker's whole job is cheap bookkeeping.
type CircuitBreakerState struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	OpenUntil            *time.Time
	HalfOpen             bool
}

// IsOpen reports whether the breaker is currently blocking traffic at
// instant now.
func (s *CircuitBreakerState) IsOpen(now time.Time) bool {
	return s.OpenUntil != nil && now.Before(*s.OpenUntil)
}

// ResponseContext is the outcome of one endpoint invocation, real or
// mocked, available to template resolution as the "response" root.
type ResponseContext struct {
	StatusCode  int
	Body        string
	Headers     map[string]string
	ParsedJSON  any // nil if Body did not parse as JSON
	RequestURI  string
	Method      string
	RequestBody string
}

// ExecutionContext is the full mutable state of exactly one workflow
// invocation. Nested invocations own an independent ExecutionContext; only
// the context map is copied in at construction time (see NewNested).
type ExecutionContext struct {
	Inputs          map[string]string
	EnvVariables    map[string]string
	Globals         map[string]string
	Context         map[string]string
	EndpointOutputs map[string]map[string]string
	WorkflowOutputs map[string]map[string]string
	WorkflowResults map[string]WorkflowResult
	CircuitBreakers map[string]*CircuitBreakerState
	OutputFilePath  string
	IndentLevel     int
}

// New creates a fresh, empty top-level ExecutionContext.
func New(inputs, envVariables map[string]string) *ExecutionContext {
	return &ExecutionContext{
		Inputs:          copyMap(inputs),
		EnvVariables:    copyMap(envVariables),
		Globals:         map[string]string{},
		Context:         map[string]string{},
		EndpointOutputs: map[string]map[string]string{},
		WorkflowOutputs: map[string]map[string]string{},
		WorkflowResults: map[string]WorkflowResult{},
		CircuitBreakers: map[string]*CircuitBreakerState{},
	}
}

// NewNested builds the ExecutionContext for a recursive nested-workflow
// invocation: the context map is copied so that nested writes never
// propagate outward, and the breaker map starts fresh per invariant.
func NewNested(parent *ExecutionContext, inputs, envVariables map[string]string) *ExecutionContext {
	child := New(inputs, envVariables)
	child.Context = copyMap(parent.Context)
	child.IndentLevel = parent.IndentLevel + 1
	return child
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BreakerState returns the breaker state for key, creating it on first use.
// Breaker identity is keyed by explicit ref when present, otherwise by
// stage name, per the data model invariant.
func (ec *ExecutionContext) BreakerState(key string) *CircuitBreakerState {
	if s, ok := ec.CircuitBreakers[key]; ok {
		return s
	}
	s := &CircuitBreakerState{}
	ec.CircuitBreakers[key] = s
	return s
}

// TemplateContext is a read-only snapshot taken from the live
// ExecutionContext at one resolution site. Building a fresh snapshot per
// site keeps the resolver itself free of mutation concerns.
type TemplateContext struct {
	Inputs          map[string]string
	Globals         map[string]string
	Context         map[string]string
	EnvVariables    map[string]string
	EndpointOutputs map[string]map[string]string
	WorkflowOutputs map[string]map[string]string
	WorkflowResults map[string]WorkflowResult
	Response        *ResponseContext
	Clock           clock.Clock
}

// Snapshot builds a TemplateContext from the live ExecutionContext, bound
// to an optional response (nil outside endpoint output/response-token
// resolution).
func (ec *ExecutionContext) Snapshot(resp *ResponseContext, clk clock.Clock) TemplateContext {
	return TemplateContext{
		Inputs:          ec.Inputs,
		Globals:         ec.Globals,
		Context:         ec.Context,
		EnvVariables:    ec.EnvVariables,
		EndpointOutputs: ec.EndpointOutputs,
		WorkflowOutputs: ec.WorkflowOutputs,
		WorkflowResults: ec.WorkflowResults,
		Response:        resp,
		Clock:           clk,
	}
}
