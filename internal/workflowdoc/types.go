// Package workflowdoc models the workflow document wire format and loads it
// from disk (the API catalog lives in package apicatalog). Stage modeling follows the tagged
// variant pattern: WorkflowStage carries a Kind discriminant plus at most
// one of Endpoint/Workflow populated, rather than an inheritance hierarchy,
// so the engine dispatches on Kind to a strategy table.
package workflowdoc

// StageKind discriminates the two stage variants the core engine supports.
type StageKind string

const (
	KindEndpoint StageKind = "Endpoint"
	KindWorkflow StageKind = "Workflow"
)

// EndStageTarget is the reserved jumpOnStatus target that terminates the
// stage loop.
const EndStageTarget = "endStage"

// WorkflowInput declares one named input a workflow accepts.
type WorkflowInput struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// RetryPolicy configures the retry loop for an endpoint stage. Fields are
// pointers where "unset" must be distinguishable from the zero value, since
// resolution merges a stage-level policy over a shared named one.
type RetryPolicy struct {
	Ref         string         `yaml:"ref,omitempty"`
	MaxRetries  *int           `yaml:"maxRetries,omitempty"`
	DelayMs     *int           `yaml:"delayMs,omitempty"`
	HTTPStatus  []int          `yaml:"httpStatus,omitempty"`
	Messages    *RetryMessages `yaml:"messages,omitempty"`
}

// RetryMessages holds templated messages emitted on retry-related events.
type RetryMessages struct {
	OnException string `yaml:"onException,omitempty"`
}

// CircuitBreakerPolicy configures the breaker for an endpoint stage or a
// ref-shared group of stages.
type CircuitBreakerPolicy struct {
	Ref                    string                  `yaml:"ref,omitempty"`
	FailureThreshold       *int                    `yaml:"failureThreshold,omitempty"`
	BreakMs                *int                    `yaml:"breakMs,omitempty"`
	CloseOnSuccessAttempts *int                    `yaml:"closeOnSuccessAttempts,omitempty"`
	Messages               *CircuitBreakerMessages `yaml:"messages,omitempty"`
}

// CircuitBreakerMessages holds templated messages emitted on breaker state
// transitions.
type CircuitBreakerMessages struct {
	OnOpen    string `yaml:"onOpen,omitempty"`
	OnBlocked string `yaml:"onBlocked,omitempty"`
}

// MockConfig is the mock branch for an Endpoint stage.
type MockConfig struct {
	Payload     *string           `yaml:"payload,omitempty"`
	PayloadFile *string           `yaml:"payloadFile,omitempty"`
	Status      *int              `yaml:"status,omitempty"`
	Output      map[string]string `yaml:"output,omitempty"`
}

// NestedMockConfig is the mock branch for a Workflow stage.
type NestedMockConfig struct {
	Output map[string]string `yaml:"output,omitempty"`
}

// EndpointStage holds the fields specific to kind: Endpoint.
type EndpointStage struct {
	APIRef         string                `yaml:"apiRef"`
	Endpoint       string                `yaml:"endpoint"`
	HTTPVerb       string                `yaml:"httpVerb"`
	ExpectedStatus *int                  `yaml:"expectedStatus,omitempty"`
	Headers        map[string]string    `yaml:"headers,omitempty"`
	Query          map[string]string    `yaml:"query,omitempty"`
	Body           string               `yaml:"body,omitempty"`
	Mock           *MockConfig          `yaml:"mock,omitempty"`
	Retry          *RetryPolicy         `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerPolicy `yaml:"circuitBreaker,omitempty"`
	JumpOnStatus   map[int]string       `yaml:"jumpOnStatus,omitempty"`
	Output         map[string]string    `yaml:"output,omitempty"`
	Set            map[string]string    `yaml:"set,omitempty"`
	Context        map[string]string    `yaml:"context,omitempty"`
}

// WorkflowStageRef holds the fields specific to kind: Workflow.
type WorkflowStageRef struct {
	WorkflowRef string            `yaml:"workflowRef"`
	Inputs      map[string]string `yaml:"inputs,omitempty"`
	Mock        *NestedMockConfig `yaml:"mock,omitempty"`
}

// WorkflowStage is one step of a workflow: a tagged variant over Kind, with
// exactly one of Endpoint or Workflow populated.
type WorkflowStage struct {
	Name         string            `yaml:"name"`
	Kind         StageKind         `yaml:"kind"`
	RunIf        string            `yaml:"runIf,omitempty"`
	DelaySeconds float64           `yaml:"delaySeconds,omitempty"`
	Message      string            `yaml:"message,omitempty"`
	Debug        map[string]string `yaml:"debug,omitempty"`

	Endpoint *EndpointStage    `yaml:"-"`
	Workflow *WorkflowStageRef `yaml:"-"`
}

// DynamicVariableSpec declares one init-stage variable generated by the
// DynamicValueService.
type DynamicVariableSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	Value string `yaml:"value,omitempty"` // Fixed

	Min    *int64 `yaml:"min,omitempty"` // Number
	Max    *int64 `yaml:"max,omitempty"`
	Pad    int    `yaml:"pad,omitempty"`
	Length int    `yaml:"length,omitempty"` // Text

	From string `yaml:"from,omitempty"` // DateTime/Date/Time
	To   string `yaml:"to,omitempty"`

	Start *int64 `yaml:"start,omitempty"` // Sequence
	Step  *int64 `yaml:"step,omitempty"`
	Index int64  `yaml:"index,omitempty"`
}

// InitStage seeds globals and context before the stage loop begins.
type InitStage struct {
	Context   map[string]string     `yaml:"context,omitempty"`
	Variables []DynamicVariableSpec `yaml:"variables,omitempty"`
}

// EndResult is the templated status message a nested caller observes.
type EndResult struct {
	Message string `yaml:"message,omitempty"`
}

// EndStage resolves the workflow's final output map.
type EndStage struct {
	Output     map[string]string `yaml:"output,omitempty"`
	OutputJSON *bool              `yaml:"outputJson,omitempty"`
	Context    map[string]string `yaml:"context,omitempty"`
	Result     *EndResult        `yaml:"result,omitempty"`
}

// ResiliencePool is the per-workflow library of named retry/breaker
// policies that stages can reference via ref.
type ResiliencePool struct {
	Retries         map[string]RetryPolicy         `yaml:"retries,omitempty"`
	CircuitBreakers map[string]CircuitBreakerPolicy `yaml:"circuitBreakers,omitempty"`
}

// APIReference names one API catalog entry used by this workflow.
type APIReference struct {
	Name       string `yaml:"name"`
	Definition string `yaml:"definition"`
}

// WorkflowReference names one nested workflow document reachable by path.
type WorkflowReference struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// References collects everything a workflow document points at externally.
type References struct {
	EnvironmentFile string              `yaml:"environmentFile,omitempty"`
	APIs            []APIReference      `yaml:"apis,omitempty"`
	Workflows       []WorkflowReference `yaml:"workflows,omitempty"`
}

// WorkflowDefinition is the immutable body of a workflow document.
type WorkflowDefinition struct {
	Version    string          `yaml:"version"`
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	Output     bool            `yaml:"output"`
	Input      []WorkflowInput `yaml:"input,omitempty"`
	References References      `yaml:"references"`
	InitStage  InitStage       `yaml:"initStage"`
	Resilience ResiliencePool  `yaml:"resilience"`
	Stages     []WorkflowStage `yaml:"stages"`
	EndStage   EndStage        `yaml:"endStage"`
}

// WorkflowDocument is a loaded workflow: its parsed definition plus the
// filesystem context needed to resolve relative references and the
// inherited + own environment variable overlay.
type WorkflowDocument struct {
	Definition           *WorkflowDefinition
	FilePath             string
	EnvironmentVariables map[string]string
}

// StageByName returns the stage with the given name and its index, or
// false if not found.
func (d *WorkflowDefinition) StageByName(name string) (WorkflowStage, int, bool) {
	for i, s := range d.Stages {
		if s.Name == name {
			return s, i, true
		}
	}
	return WorkflowStage{}, -1, false
}
