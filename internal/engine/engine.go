// Package engine implements the workflow execution engine: the top-level
// WorkflowExecutor loop, the EndpointStageExecutor (retry + circuit breaker
// + jump-on-status), and the NestedWorkflowStageExecutor. It is the
// composition root for templating, runif, mockpayload, invoker, resilience,
// dynamicvalue, and outputwriter.
package engine

import (
	"log/slog"

	"github.com/flowsmith/flowctl/internal/apicatalog"
	"github.com/flowsmith/flowctl/internal/clock"
	"github.com/flowsmith/flowctl/internal/invoker"
)

// Engine holds the engine-wide capabilities and run flags shared across a
// top-level invocation and every nested workflow it recurses into.
type Engine struct {
	Catalog *apicatalog.Catalog
	Invoker invoker.Invoker
	Clock   clock.Clock

	logger             *slog.Logger
	mocked             bool
	verbose            bool
	debugEnabled       bool
	varsOverrideActive bool
	confirmSelfJump    func(stageName string) bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMocked runs every endpoint/workflow stage that declares a mock against
// that mock instead of performing a real invocation. Stages without a mock
// are still invoked (endpoint) or loaded and executed (workflow).
func WithMocked(mocked bool) Option {
	return func(e *Engine) { e.mocked = mocked }
}

// WithVerbose enables additional diagnostic logging (request body dump on
// 400 responses).
func WithVerbose(verbose bool) Option {
	return func(e *Engine) { e.verbose = verbose }
}

// WithDebugEnabled turns on printing of a stage's debug map.
func WithDebugEnabled(enabled bool) Option {
	return func(e *Engine) { e.debugEnabled = enabled }
}

// WithVarsOverrideActive disables the sibling ".wfvars" fallback for nested
// workflow inputs, matching the top-level run's explicit --varsfile flag.
func WithVarsOverrideActive(active bool) Option {
	return func(e *Engine) { e.varsOverrideActive = active }
}

// WithSelfJumpConfirmation supplies the interactive confirmation callback a
// non-mocked self-jump requires. A nil callback (the default) always
// declines.
func WithSelfJumpConfirmation(confirm func(stageName string) bool) Option {
	return func(e *Engine) { e.confirmSelfJump = confirm }
}

// New builds an Engine ready to run top-level or nested workflow
// invocations.
func New(catalog *apicatalog.Catalog, inv invoker.Invoker, clk clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		Catalog: catalog,
		Invoker: inv,
		Clock:   clk,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkflowExecutionResult is what a completed top-level or nested run
// produces.
type WorkflowExecutionResult struct {
	Output         map[string]string
	OutputFilePath string
}
