package app

import "time"

// InputType is the routing decision for one piece of user input.
type InputType string

const (
	InputCommand  InputType = "command"
	InputPrompt   InputType = "prompt"
	InputWorkflow InputType = "workflow"
)

func ParseInputType(s string) (InputType, bool) {
	switch InputType(s) {
	case InputCommand, InputPrompt, InputWorkflow:
		return InputType(s), true
	}
	return "", false
}

// Method records which classifier produced a result.
type Method string

const (
	MethodRule   Method = "rule"
	MethodModel  Method = "model"
	MethodHybrid Method = "hybrid"
)

// Stages annotated on hybrid results (stored under the "stage" metadata key).
const (
	StageRuleOnly      = "rule-based-only"
	StageHybrid        = "rule-and-model"
	StageErrorFallback = "error-fallback"
)

// ClassificationResult is produced fresh per input and never mutated after
// return. ExtractedData carries structured values pulled out of the input
// (command name, step estimates); Metadata carries pipeline bookkeeping.
type ClassificationResult struct {
	Type          InputType      `json:"type"`
	Confidence    float64        `json:"confidence"`
	Method        Method         `json:"method"`
	Reasoning     string         `json:"reasoning"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Stage returns the pipeline stage annotation, if any.
func (r ClassificationResult) Stage() string {
	if r.Metadata == nil {
		return ""
	}
	s, _ := r.Metadata["stage"].(string)
	return s
}

// AgentResponse is what the orchestrator hands back to the caller after a
// request reaches a terminal state.
type AgentResponse struct {
	Content       string        `json:"content"`
	Type          InputType     `json:"type"`
	Confidence    float64       `json:"confidence"`
	Method        Method        `json:"method,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
}

// StateChange is delivered to subscribers on every mutating StateStore call,
// synchronously and in mutation order.
type StateChange struct {
	Type      string    `json:"type"`
	Field     string    `json:"field"`
	OldValue  any       `json:"old_value,omitempty"`
	NewValue  any       `json:"new_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func copyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
