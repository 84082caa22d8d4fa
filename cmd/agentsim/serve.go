package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probelab/agentsim/internal/config"
	"github.com/probelab/agentsim/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes persona generation, batch simulation, scoring and behavior tests as REST endpoints.`,
	RunE:  runServe,
}

var (
	serveConfigPath    string
	servePort          int
	serveAgentEndpoint string
	serveAgentContext  string
	serveAPIKey        string
	serveDatabaseURL   string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveAgentEndpoint, "agent-endpoint", "", "HTTP endpoint of the agent under test")
	serveCmd.Flags().StringVar(&serveAgentContext, "agent-context", "", "Business context of the agent under test")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY env var)")
	serveCmd.Flags().StringVar(&serveDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(serveConfigPath, func(c *config.Config) {
		markChanged(cmd, "port", func() { c.Port = servePort })
		markChanged(cmd, "agent-endpoint", func() { c.AgentEndpoint = serveAgentEndpoint })
		markChanged(cmd, "agent-context", func() { c.AgentContext = serveAgentContext })
		markChanged(cmd, "api-key", func() { c.APIKey = serveAPIKey })
		markChanged(cmd, "db-url", func() { c.DatabaseURL = serveDatabaseURL })
	})
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}
	if cfg.AgentEndpoint == "" {
		return fmt.Errorf("--agent-endpoint flag or AGENT_ENDPOINT environment variable is required")
	}

	srv, err := server.New(context.Background(), server.Config{
		Port:          cfg.Port,
		APIKey:        cfg.APIKey,
		AgentEndpoint: cfg.AgentEndpoint,
		AgentContext:  cfg.AgentContext,
		DatabaseURL:   cfg.DatabaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
