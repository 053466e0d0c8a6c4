// Package flowerrors provides structured error types for the workflow engine.
package flowerrors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code identifies a distinct engine failure kind, per the error handling
// design: these are semantic names, not Go type names.
type Code string

const (
	CodeWorkflowLoadFailed     Code = "WORKFLOW_LOAD_FAILED"
	CodeMissingRequiredInput   Code = "MISSING_REQUIRED_INPUT"
	CodeTemplateResolveFailed  Code = "TEMPLATE_RESOLUTION_FAILED"
	CodeInvalidRunIf           Code = "INVALID_RUN_IF"
	CodeInvalidMockPayload     Code = "INVALID_MOCK_PAYLOAD"
	CodeStageStatusMismatch    Code = "STAGE_STATUS_MISMATCH"
	CodeCircuitOpen            Code = "CIRCUIT_OPEN"
	CodeMockedSelfJump         Code = "MOCKED_SELF_JUMP"
	CodeAPIReferenceUnknown    Code = "API_REFERENCE_UNKNOWN"
	CodeEnvironmentUnknown     Code = "ENVIRONMENT_UNKNOWN"
	CodeVarsMissingEnvironment Code = "VARS_MISSING_ENVIRONMENT"
	CodeInvalidVarsFilePath    Code = "INVALID_VARS_FILE_PATH"
	CodeCancelled              Code = "CANCELLED"
	CodeUnknown                Code = "UNKNOWN"
)

// Category groups error codes for HTTP-status mapping. The CLI does not use
// it: every failure exits with code 1.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryUnavailable
	CategoryCancelled
)

var codeCategories = map[Code]Category{
	CodeWorkflowLoadFailed:     CategoryBadRequest,
	CodeMissingRequiredInput:   CategoryBadRequest,
	CodeTemplateResolveFailed:  CategoryBadRequest,
	CodeInvalidRunIf:           CategoryBadRequest,
	CodeInvalidMockPayload:     CategoryBadRequest,
	CodeStageStatusMismatch:    CategoryConflict,
	CodeCircuitOpen:            CategoryUnavailable,
	CodeMockedSelfJump:         CategoryBadRequest,
	CodeAPIReferenceUnknown:    CategoryNotFound,
	CodeEnvironmentUnknown:     CategoryNotFound,
	CodeVarsMissingEnvironment: CategoryNotFound,
	CodeInvalidVarsFilePath:    CategoryBadRequest,
	CodeCancelled:              CategoryCancelled,
}

// HTTPStatus returns the HTTP status code conventionally associated with a
// category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryUnavailable:
		return 503
	case CategoryCancelled:
		return 499
	default:
		return 500
	}
}

// FlowError is the structured error type raised by every engine component.
type FlowError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

func (e *FlowError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// UserMessage renders the CLI-friendly multi-line form.
func (e *FlowError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for this error's code.
func (e *FlowError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the status code for this error's category.
func (e *FlowError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *FlowError) MarshalJSON() ([]byte, error) {
	type alias FlowError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a FlowError with the same code, so that
// errors.Is(err, &FlowError{Code: CodeCircuitOpen}) works without string
// matching.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error carrying the given cause.
func (e *FlowError) WithCause(err error) *FlowError {
	return &FlowError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Constructors, one per error kind named in the error handling design ---

func ErrWorkflowLoadFailed(path string, cause error) *FlowError {
	return &FlowError{
		Code:  CodeWorkflowLoadFailed,
		What:  fmt.Sprintf("failed to load workflow %s", path),
		Why:   "the file is missing, unreadable, or not valid workflow YAML",
		Fix:   "check the --workflow path and the document's YAML syntax",
		Cause: cause,
	}
}

func ErrMissingRequiredInput(name string) *FlowError {
	return &FlowError{
		Code: CodeMissingRequiredInput,
		What: fmt.Sprintf("missing required input %q", name),
		Why:  "the workflow definition marks this input as required and no value was supplied",
		Fix:  "pass the input on the command line or via a vars file",
	}
}

func ErrTemplateResolutionFailed(token, reason string) *FlowError {
	return &FlowError{
		Code: CodeTemplateResolveFailed,
		What: fmt.Sprintf("could not resolve template token %q", token),
		Why:  reason,
		Fix:  "check the token root and path against the live execution context",
	}
}

func ErrInvalidRunIf(expr string, cause error) *FlowError {
	return &FlowError{
		Code:  CodeInvalidRunIf,
		What:  fmt.Sprintf("invalid runIf expression %q", expr),
		Why:   "the expression does not match the runIf grammar",
		Fix:   `use the form {{ token }} == "value" (or !=, in, not in)`,
		Cause: cause,
	}
}

func ErrInvalidMockPayload(stage, reason string) *FlowError {
	return &FlowError{
		Code: CodeInvalidMockPayload,
		What: fmt.Sprintf("invalid mock payload for stage %q", stage),
		Why:  reason,
		Fix:  "set exactly one of mock.payload or mock.payloadFile, with valid JSON",
	}
}

func ErrStageStatusMismatch(stage string, expected, actual int) *FlowError {
	return &FlowError{
		Code: CodeStageStatusMismatch,
		What: fmt.Sprintf("stage %q returned status %d, expected %d", stage, actual, expected),
		Why:  "the response status did not match expectedStatus",
		Fix:  "adjust expectedStatus or investigate the upstream API",
	}
}

func ErrCircuitOpen(ref string) *FlowError {
	return &FlowError{
		Code: CodeCircuitOpen,
		What: fmt.Sprintf("circuit breaker %q is open", ref),
		Why:  "too many consecutive failures tripped the breaker",
		Fix:  "wait for breakMs to elapse, or investigate the upstream failures",
	}
}

func ErrMockedSelfJump(stage string) *FlowError {
	return &FlowError{
		Code: CodeMockedSelfJump,
		What: fmt.Sprintf("stage %q jumps to itself under a mocked run", stage),
		Why:  "self-jumps require interactive confirmation, which mocked runs cannot provide",
		Fix:  "remove the self-jump from jumpOnStatus for mocked runs, or run without --mocked",
	}
}

func ErrAPIReferenceUnknown(ref string) *FlowError {
	return &FlowError{
		Code: CodeAPIReferenceUnknown,
		What: fmt.Sprintf("unknown API reference %q", ref),
		Why:  "no matching definition exists in the selected catalog version",
		Fix:  "add the API to references.apis or fix the apiRef spelling",
	}
}

func ErrEnvironmentUnknown(env, apiRef string) *FlowError {
	return &FlowError{
		Code: CodeEnvironmentUnknown,
		What: fmt.Sprintf("environment %q has no base URL for API %q", env, apiRef),
		Why:  "neither the API definition nor the catalog version declares a baseUrl for this environment",
		Fix:  "add the environment to the catalog's baseUrl map",
	}
}

func ErrVarsMissingEnvironment(env string) *FlowError {
	return &FlowError{
		Code: CodeVarsMissingEnvironment,
		What: fmt.Sprintf("vars file has no entries for environment %q", env),
		Why:  "the file declares other environments but not this one, and has no global defaults",
		Fix:  "add a block for this environment, or global defaults, to the vars file",
	}
}

func ErrInvalidVarsFilePath(path string) *FlowError {
	return &FlowError{
		Code: CodeInvalidVarsFilePath,
		What: fmt.Sprintf("--varsfile %s is not a .wfvars file", path),
		Why:  "the vars file contract requires a .wfvars extension",
		Fix:  "point --varsfile at the .wfvars file for this workflow",
	}
}

func ErrCancelled(cause error) *FlowError {
	return &FlowError{
		Code:  CodeCancelled,
		What:  "execution cancelled",
		Why:   "the cancellation signal fired before the run completed",
		Cause: cause,
	}
}

// AsFlowError attempts to convert an error to a *FlowError, unwrapping as
// needed. Returns nil if no FlowError is found in the chain.
func AsFlowError(err error) *FlowError {
	var fe *FlowError
	if As(err, &fe) {
		return fe
	}
	return nil
}

// As is a convenience wrapper mirroring errors.As for *FlowError targets.
func As(err error, target any) bool {
	return asError(err, target)
}

func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if fe, ok := err.(*FlowError); ok {
		if t, ok := target.(**FlowError); ok {
			*t = fe
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a FlowError with an unknown code.
func Wrap(err error, what string) *FlowError {
	return &FlowError{
		Code:  CodeUnknown,
		What:  what,
		Cause: err,
	}
}
