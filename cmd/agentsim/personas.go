package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/probelab/agentsim/internal/config"
	"github.com/probelab/agentsim/internal/observability"
	"github.com/probelab/agentsim/internal/personas"
	"github.com/probelab/agentsim/internal/types"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Generate synthetic user personas",
	Long: `Generate a batch of distinct synthetic personas for simulation.

The generation mode depends on the flags given: --behavior produces personas
whose goals naturally trigger a target agent behavior, --description follows a
free-form description, and with neither the personas are derived from the
agent context alone.`,
	RunE: runPersonasCmd,
}

var (
	personasConfigPath   string
	personasCount        int
	personasDescription  string
	personasBehavior     string
	personasHint         string
	personasAgentContext string
	personasAPIKey       string
	personasOutput       string
	personasVerbose      bool
)

func init() {
	personasCmd.Flags().StringVar(&personasConfigPath, "config", "", "Path to config.json file")
	personasCmd.Flags().IntVarP(&personasCount, "count", "c", 0, "Number of personas to generate")
	personasCmd.Flags().StringVarP(&personasDescription, "description", "d", "", "Free-form description of the personas to generate")
	personasCmd.Flags().StringVarP(&personasBehavior, "behavior", "b", "", "Agent behavior the personas should naturally trigger")
	personasCmd.Flags().StringVar(&personasHint, "persona-hint", "", "Hint about what kind of people to generate (used with --behavior)")
	personasCmd.Flags().StringVar(&personasAgentContext, "agent-context", "", "Business context of the agent under test")
	personasCmd.Flags().StringVar(&personasAPIKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY env var)")
	personasCmd.Flags().StringVarP(&personasOutput, "output", "o", "", "Write the personas as JSON to this file instead of stdout")
	personasCmd.Flags().BoolVarP(&personasVerbose, "verbose", "v", false, "Print personas in a readable format")

	rootCmd.AddCommand(personasCmd)
}

func runPersonasCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := resolveConfig(personasConfigPath, func(c *config.Config) {
		markChanged(cmd, "count", func() { c.PersonaCount = personasCount })
		markChanged(cmd, "agent-context", func() { c.AgentContext = personasAgentContext })
		markChanged(cmd, "api-key", func() { c.APIKey = personasAPIKey })
	})
	if err != nil {
		return err
	}

	if personasDescription == "" && personasBehavior == "" && cfg.AgentContext == "" {
		return fmt.Errorf("one of --description, --behavior or --agent-context is required")
	}

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck

	generator := personas.NewGenerator(client)

	var personaList []types.Persona
	switch {
	case personasBehavior != "":
		personaList, err = generator.GenerateForBehavior(ctx, cfg.PersonaCount, personasBehavior, personasHint, cfg.AgentContext)
	case personasDescription != "":
		personaList, err = generator.Generate(ctx, cfg.PersonaCount, personasDescription, cfg.AgentContext)
	default:
		personaList, err = generator.GenerateFromContext(ctx, cfg.PersonaCount, cfg.AgentContext)
	}
	if err != nil {
		return fmt.Errorf("persona generation failed: %w", err)
	}

	if personasVerbose {
		observability.NewPrinter(os.Stderr).PrintPersonas(personaList)
	}

	if personasOutput != "" {
		data, err := marshalIndent(personaList)
		if err != nil {
			return err
		}
		if err := os.WriteFile(personasOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", personasOutput, err)
		}
		fmt.Printf("Wrote %d personas to %s\n", len(personaList), personasOutput)
		return nil
	}

	return printJSON(personaList)
}
