package personas

import "fmt"

// GenerationError represents a failure to obtain usable personas from the
// model: empty output, unparsable JSON, or records missing required fields.
type GenerationError struct {
	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("persona generation failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("persona generation failed: %s", e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
