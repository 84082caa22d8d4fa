package scoring

import "fmt"

// CompilationError represents a failure to turn a problem description into a
// usable rubric: unparsable model output or a template missing its required
// placeholders.
type CompilationError struct {
	Message string
	Cause   error
}

func (e *CompilationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rubric compilation failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("rubric compilation failed: %s", e.Message)
}

func (e *CompilationError) Unwrap() error {
	return e.Cause
}

// JudgeError represents an unusable judge verdict: the score/rationale JSON
// could not be parsed.
type JudgeError struct {
	Message string
	Cause   error
}

func (e *JudgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("judge call failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("judge call failed: %s", e.Message)
}

func (e *JudgeError) Unwrap() error {
	return e.Cause
}
