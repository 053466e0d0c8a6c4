package workflowdoc

import "gopkg.in/yaml.v3"

// rawStage is the flat shape stages actually take on the wire; UnmarshalYAML
// splits it into the tagged-variant WorkflowStage per Kind.
type rawStage struct {
	Name         string            `yaml:"name"`
	Kind         StageKind         `yaml:"kind"`
	RunIf        string            `yaml:"runIf,omitempty"`
	DelaySeconds float64           `yaml:"delaySeconds,omitempty"`
	Message      string            `yaml:"message,omitempty"`
	Debug        map[string]string `yaml:"debug,omitempty"`

	APIRef         string                 `yaml:"apiRef"`
	Endpoint       string                 `yaml:"endpoint"`
	HTTPVerb       string                 `yaml:"httpVerb"`
	ExpectedStatus *int                   `yaml:"expectedStatus,omitempty"`
	Headers        map[string]string      `yaml:"headers,omitempty"`
	Query          map[string]string      `yaml:"query,omitempty"`
	Body           string                 `yaml:"body,omitempty"`
	Mock           *MockConfig            `yaml:"mock,omitempty"`
	Retry          *RetryPolicy           `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerPolicy  `yaml:"circuitBreaker,omitempty"`
	JumpOnStatus   map[int]string         `yaml:"jumpOnStatus,omitempty"`
	Output         map[string]string      `yaml:"output,omitempty"`
	Set            map[string]string      `yaml:"set,omitempty"`
	Context        map[string]string      `yaml:"context,omitempty"`

	WorkflowRef string            `yaml:"workflowRef"`
	Inputs      map[string]string `yaml:"inputs,omitempty"`
}

// UnmarshalYAML implements the tagged-variant split described in types.go.
func (s *WorkflowStage) UnmarshalYAML(value *yaml.Node) error {
	var raw rawStage
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Kind = raw.Kind
	s.RunIf = raw.RunIf
	s.DelaySeconds = raw.DelaySeconds
	s.Message = raw.Message
	s.Debug = raw.Debug
	s.Endpoint = nil
	s.Workflow = nil

	switch raw.Kind {
	case KindWorkflow:
		var mock *NestedMockConfig
		if raw.Mock != nil {
			mock = &NestedMockConfig{Output: raw.Mock.Output}
		}
		s.Workflow = &WorkflowStageRef{
			WorkflowRef: raw.WorkflowRef,
			Inputs:      raw.Inputs,
			Mock:        mock,
		}
	default:
		// Endpoint is the default kind when unspecified, matching the
		// two-kind core dispatch table.
		s.Kind = KindEndpoint
		s.Endpoint = &EndpointStage{
			APIRef:         raw.APIRef,
			Endpoint:       raw.Endpoint,
			HTTPVerb:       raw.HTTPVerb,
			ExpectedStatus: raw.ExpectedStatus,
			Headers:        raw.Headers,
			Query:          raw.Query,
			Body:           raw.Body,
			Mock:           raw.Mock,
			Retry:          raw.Retry,
			CircuitBreaker: raw.CircuitBreaker,
			JumpOnStatus:   raw.JumpOnStatus,
			Output:         raw.Output,
			Set:            raw.Set,
			Context:        raw.Context,
		}
	}
	return nil
}
