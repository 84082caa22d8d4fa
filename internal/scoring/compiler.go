// Package scoring turns free-text behavior complaints into reusable judge
// rubrics and applies those rubrics to conversation transcripts.
package scoring

import (
	"context"
	"encoding/json"

	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/prompts"
	"github.com/probelab/agentsim/internal/types"
)

// Compiler turns a problem description into a ScorerRubric.
type Compiler struct {
	client llm.Client
}

// NewCompiler creates a rubric compiler backed by the given client.
func NewCompiler(client llm.Client) *Compiler {
	return &Compiler{client: client}
}

// compiledRubric is the JSON shape the compile prompt asks for.
type compiledRubric struct {
	ScorerPromptTemplate string `json:"scorer_prompt_template"`
	TestName             string `json:"test_name"`
	PersonaHint          string `json:"persona_hint"`
}

// Compile converts a free-text behavior complaint into a judge rubric with a
// 0.0/0.5/1.0 scale and the {{conversation}} and {{persona}} placeholders.
// The rubric is validated before it is returned; a template lacking either
// placeholder is a CompilationError, never a usable rubric.
func (c *Compiler) Compile(ctx context.Context, problemDescription string) (types.ScorerRubric, error) {
	prompt := prompts.MustFormat("scoring.json", "compile-rubric", map[string]string{
		"ProblemDescription": problemDescription,
	})

	raw, err := c.client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return types.ScorerRubric{}, &CompilationError{Message: "model call failed", Cause: err}
	}

	var compiled compiledRubric
	if err := json.Unmarshal([]byte(raw), &compiled); err != nil {
		return types.ScorerRubric{}, &CompilationError{Message: "unparsable compiler response", Cause: err}
	}

	rubric := types.ScorerRubric{
		ScorerPromptTemplate: compiled.ScorerPromptTemplate,
		TestName:             compiled.TestName,
		PersonaHint:          compiled.PersonaHint,
	}
	if err := rubric.Validate(); err != nil {
		return types.ScorerRubric{}, &CompilationError{Message: "compiled rubric is invalid", Cause: err}
	}

	return rubric, nil
}
