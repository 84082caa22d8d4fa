// Package types defines the core data model shared across the simulation
// and evaluation engine: personas, conversation transcripts, batches, rubrics,
// and behavior test results.
package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for typed construction checks.
var validate = validator.New()

// Persona is a synthetic user profile used to drive one simulated
// conversation. Immutable once created; produced only by the persona
// generator.
type Persona struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Role    string `json:"role" validate:"required"`
	Goal    string `json:"goal" validate:"required"`
	Context string `json:"context" validate:"required"`
	Tone    string `json:"tone"`
}

// Validate checks that the persona carries every required field.
// Generated records that fail this check must be rejected rather than
// propagated forward in a partially-shaped state.
func (p *Persona) Validate() error {
	if err := validate.Struct(p); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("persona missing required field %q", errs[0].Field())
		}
		return err
	}
	return nil
}

// Summary returns the short "name (role)" form used when telling the
// generator which personas already exist.
func (p *Persona) Summary() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Role)
}
