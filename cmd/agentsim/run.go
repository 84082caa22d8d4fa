package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/probelab/agentsim/internal/config"
	"github.com/probelab/agentsim/internal/observability"
	"github.com/probelab/agentsim/internal/orchestration"
	"github.com/probelab/agentsim/internal/personas"
	"github.com/probelab/agentsim/internal/simulation"
	"github.com/probelab/agentsim/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a batch of conversations against an agent",
	Long: `Create a batch of simulation runs and poll it to completion.

Personas come from --personas (a JSON file) or are generated from the agent
context. Each persona holds a multi-turn conversation with the agent at
--agent-endpoint; transcripts are printed when the batch finishes.`,
	RunE: runBatchCmd,
}

var (
	runConfigPath    string
	runPersonaFile   string
	runBatchName     string
	runCount         int
	runAgentEndpoint string
	runAgentContext  string
	runMaxTurns      int
	runParallelism   int
	runAPIKey        string
	runDatabaseURL   string
	runVerbose       bool
)

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file")
	runCmd.Flags().StringVarP(&runPersonaFile, "personas", "p", "", "Path to a JSON file of personas (generated when omitted)")
	runCmd.Flags().StringVarP(&runBatchName, "name", "n", "simulation", "Batch name")
	runCmd.Flags().IntVarP(&runCount, "count", "c", 0, "Personas to generate when --personas is omitted")
	runCmd.Flags().StringVar(&runAgentEndpoint, "agent-endpoint", "", "HTTP endpoint of the agent under test")
	runCmd.Flags().StringVar(&runAgentContext, "agent-context", "", "Business context of the agent under test")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Maximum persona/agent turn pairs per conversation")
	runCmd.Flags().IntVar(&runParallelism, "parallelism", 0, "Concurrent conversations per batch")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY env var)")
	runCmd.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print full transcripts")

	rootCmd.AddCommand(runCmd)
}

func runBatchCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := resolveConfig(runConfigPath, func(c *config.Config) {
		markChanged(cmd, "count", func() { c.PersonaCount = runCount })
		markChanged(cmd, "agent-endpoint", func() { c.AgentEndpoint = runAgentEndpoint })
		markChanged(cmd, "agent-context", func() { c.AgentContext = runAgentContext })
		markChanged(cmd, "max-turns", func() { c.MaxTurns = runMaxTurns })
		markChanged(cmd, "parallelism", func() { c.Parallelism = runParallelism })
		markChanged(cmd, "api-key", func() { c.APIKey = runAPIKey })
		markChanged(cmd, "db-url", func() { c.DatabaseURL = runDatabaseURL })
	})
	if err != nil {
		return err
	}
	if cfg.AgentEndpoint == "" {
		return fmt.Errorf("--agent-endpoint flag or AGENT_ENDPOINT environment variable is required")
	}

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var personaList []types.Persona
	if runPersonaFile != "" {
		personaList, err = loadPersonaFile(runPersonaFile)
	} else {
		if cfg.AgentContext == "" {
			return fmt.Errorf("--personas or --agent-context is required")
		}
		fmt.Printf("Generating %d personas...\n", cfg.PersonaCount)
		personaList, err = personas.NewGenerator(client).GenerateFromContext(ctx, cfg.PersonaCount, cfg.AgentContext)
	}
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	if runVerbose {
		printer.PrintPersonas(personaList)
	}

	orchestrator := orchestration.NewOrchestrator(
		simulation.NewSimulator(client),
		simulation.NewHTTPAgent(cfg.AgentEndpoint),
	)

	batch, _ := orchestrator.CreateBatch(types.BatchConfig{
		Name:        runBatchName,
		MaxTurns:    cfg.MaxTurns,
		Parallelism: cfg.Parallelism,
		AgentName:   cfg.AgentEndpoint,
	}, personaList)
	fmt.Printf("Created batch %s with %d runs\n", batch.ID, len(personaList))

	runs, err := pollBatch(ctx, orchestrator, batch.ID)
	if err != nil {
		return err
	}

	final := batch
	for _, b := range orchestrator.PollBatches() {
		if b.ID == batch.ID {
			final = b
			break
		}
	}
	printer.PrintBatch(final, runs)
	if runVerbose {
		for _, run := range runs {
			printer.PrintTranscript(run)
		}
	}

	if db != nil {
		if err := db.SaveReportRuns(ctx, final, runs); err != nil {
			return fmt.Errorf("failed to persist batch: %w", err)
		}
		fmt.Println("Saved batch to database")
	}

	if final.Status == types.BatchFailed {
		return fmt.Errorf("batch %s failed: no run completed", final.ID)
	}
	return nil
}

// pollBatch polls run snapshots every two seconds until no run is still
// running, printing a progress line per tick.
func pollBatch(ctx context.Context, orchestrator *orchestration.Orchestrator, batchID string) ([]types.SimulationRun, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		runs, err := orchestrator.PollRuns(batchID)
		if err != nil {
			return nil, err
		}

		running := 0
		for _, run := range runs {
			if !run.Status.Terminal() {
				running++
			}
		}
		if running == 0 {
			return runs, nil
		}
		fmt.Printf("  %d/%d runs still in flight...\n", running, len(runs))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
