package simulation

import "fmt"

// GenerationError represents a persona-turn failure: the model returned no
// usable utterance.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("persona turn failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("persona turn failed: %s", e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// AgentError represents a failure of the agent under test while producing
// its turn.
type AgentError struct {
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent turn failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("agent turn failed: %s", e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}
