package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/probelab/agentsim/internal/config"
	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/store"
	"github.com/probelab/agentsim/internal/types"
)

// configDefaults are the engine defaults applied after config file, flags
// and environment have been merged.
var configDefaults = config.Config{
	PersonaCount: 5,
	MaxTurns:     6,
	Parallelism:  4,
	Port:         8080,
}

// resolveConfig loads the optional config file, overlays environment
// variables, applies defaults and validates the result. Flag overrides are
// applied by the caller before this runs the validation.
func resolveConfig(path string, override func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	if override != nil {
		override(&cfg)
	}
	cfg.FromEnv()
	cfg = cfg.MergeWithDefaults(configDefaults)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLLMClient creates the Gemini client, requiring an API key.
func newLLMClient(ctx context.Context, cfg config.Config) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}
	return llm.NewClient(ctx, llm.DefaultConfig(), cfg.APIKey)
}

// openStore connects to PostgreSQL when a database URL is configured. A nil
// store is valid and disables persistence.
func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// loadPersonaFile reads a JSON array of personas from disk and validates
// each record, filling missing ids.
func loadPersonaFile(path string) ([]types.Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file %s: %w", path, err)
	}

	var personaList []types.Persona
	if err := json.Unmarshal(data, &personaList); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}

	for i := range personaList {
		if personaList[i].ID == "" {
			personaList[i].ID = fmt.Sprintf("persona-file-%d", i)
		}
		if err := personaList[i].Validate(); err != nil {
			return nil, fmt.Errorf("persona %d in %s: %w", i, path, err)
		}
	}
	return personaList, nil
}

// marshalIndent renders v as indented JSON with a trailing newline.
func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// markChanged applies a flag override only when the flag was set explicitly.
func markChanged(cmd *cobra.Command, name string, apply func()) {
	if cmd.Flags().Changed(name) {
		apply()
	}
}
