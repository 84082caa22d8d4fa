// Package config provides configuration loading and validation for the CLI
// and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents engine configuration loadable from a JSON file.
// All fields are optional; missing values fall back to defaults or CLI flags.
type Config struct {
	// Capabilities
	APIKey        string `json:"api_key,omitempty"`        // LLM provider API key (GEMINI_API_KEY env also works)
	AgentEndpoint string `json:"agent_endpoint,omitempty"` // HTTP endpoint of the agent under test
	AgentContext  string `json:"agent_context,omitempty"`  // business context for the agent under test

	// Execution limits
	PersonaCount int `json:"persona_count,omitempty"` // personas per batch/test
	MaxTurns     int `json:"max_turns,omitempty"`     // persona/agent turn pairs per run
	Parallelism  int `json:"parallelism,omitempty"`   // concurrent runs per batch

	// Server / persistence
	Port        int    `json:"port,omitempty"`
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL, optional

	// Behavior
	Verbose bool `json:"verbose,omitempty"` // print detailed progress
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv fills unset fields from environment variables.
func (c *Config) FromEnv() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.AgentEndpoint == "" {
		c.AgentEndpoint = os.Getenv("AGENT_ENDPOINT")
	}
}

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	if c.PersonaCount < 0 {
		return fmt.Errorf("config error: 'persona_count' must be non-negative")
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("config error: 'max_turns' must be non-negative")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("config error: 'parallelism' must be non-negative")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be a valid port number")
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero-valued fields filled from
// defaults. Bool fields are not merged; CLI flags win for those.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.AgentEndpoint == "" {
		result.AgentEndpoint = defaults.AgentEndpoint
	}
	if result.AgentContext == "" {
		result.AgentContext = defaults.AgentContext
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.PersonaCount == 0 {
		result.PersonaCount = defaults.PersonaCount
	}
	if result.MaxTurns == 0 {
		result.MaxTurns = defaults.MaxTurns
	}
	if result.Parallelism == 0 {
		result.Parallelism = defaults.Parallelism
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}

	return result
}
