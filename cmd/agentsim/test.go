package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/probelab/agentsim/internal/config"
	"github.com/probelab/agentsim/internal/experiment"
	"github.com/probelab/agentsim/internal/observability"
	"github.com/probelab/agentsim/internal/orchestration"
	"github.com/probelab/agentsim/internal/personas"
	"github.com/probelab/agentsim/internal/scoring"
	"github.com/probelab/agentsim/internal/simulation"
	"github.com/probelab/agentsim/internal/types"
)

var testCmd = &cobra.Command{
	Use:   "test <behavior description>",
	Short: "Run a full behavior test against an agent",
	Long: `Run the complete behavior-testing flow for one described behavior:
compile a judge rubric, generate personas designed to trigger the behavior,
simulate their conversations against the agent, score every transcript and
aggregate the results.

Example:
  agentsim test "the agent asks for a callback number when the caller is busy" \
    --agent-endpoint http://localhost:3000/chat`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTestCmd,
}

var (
	testConfigPath    string
	testCount         int
	testAgentEndpoint string
	testAgentContext  string
	testMaxTurns      int
	testParallelism   int
	testAPIKey        string
	testDatabaseURL   string
	testJSONOutput    bool
	testVerbose       bool
)

func init() {
	testCmd.Flags().StringVar(&testConfigPath, "config", "", "Path to config.json file")
	testCmd.Flags().IntVarP(&testCount, "count", "c", 0, "Personas per behavior test")
	testCmd.Flags().StringVar(&testAgentEndpoint, "agent-endpoint", "", "HTTP endpoint of the agent under test")
	testCmd.Flags().StringVar(&testAgentContext, "agent-context", "", "Business context of the agent under test")
	testCmd.Flags().IntVar(&testMaxTurns, "max-turns", 0, "Maximum persona/agent turn pairs per conversation")
	testCmd.Flags().IntVar(&testParallelism, "parallelism", 0, "Concurrent conversations per batch")
	testCmd.Flags().StringVar(&testAPIKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY env var)")
	testCmd.Flags().StringVar(&testDatabaseURL, "db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL env var)")
	testCmd.Flags().BoolVar(&testJSONOutput, "json", false, "Print the full report as JSON")
	testCmd.Flags().BoolVarP(&testVerbose, "verbose", "v", false, "Print personas and transcripts as the test runs")

	rootCmd.AddCommand(testCmd)
}

func runTestCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	description := strings.Join(args, " ")

	cfg, err := resolveConfig(testConfigPath, func(c *config.Config) {
		markChanged(cmd, "count", func() { c.PersonaCount = testCount })
		markChanged(cmd, "agent-endpoint", func() { c.AgentEndpoint = testAgentEndpoint })
		markChanged(cmd, "agent-context", func() { c.AgentContext = testAgentContext })
		markChanged(cmd, "max-turns", func() { c.MaxTurns = testMaxTurns })
		markChanged(cmd, "parallelism", func() { c.Parallelism = testParallelism })
		markChanged(cmd, "api-key", func() { c.APIKey = testAPIKey })
		markChanged(cmd, "db-url", func() { c.DatabaseURL = testDatabaseURL })
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

	orchestrator := orchestration.NewOrchestrator(
		simulation.NewSimulator(client),
		simulation.NewHTTPAgent(cfg.AgentEndpoint),
	)
	runner := experiment.NewRunner(
		scoring.NewCompiler(client),
		personas.NewGenerator(client),
		orchestrator,
		scoring.NewScorer(client),
		experiment.NewAggregator(client),
	)

	printer := observability.NewPrinter(os.Stdout)
	onProgress := func(ev experiment.ProgressEvent) {
		fmt.Printf("[%s] %s\n", ev.Stage, ev.Message)
		if !testVerbose {
			return
		}
		switch content := ev.Content.(type) {
		case types.Batch:
			fmt.Printf("  batch %s against %s\n", content.ID, cfg.AgentEndpoint)
		case types.ScorerRubric:
			fmt.Printf("  judge template:\n%s\n", indent(content.ScorerPromptTemplate, "    "))
		}
	}

	report, err := runner.RunBehaviorTest(ctx, description, experiment.RunOptions{
		PersonaCount: cfg.PersonaCount,
		AgentContext: cfg.AgentContext,
		MaxTurns:     cfg.MaxTurns,
		Parallelism:  cfg.Parallelism,
		OnProgress:   onProgress,
	})
	if err != nil {
		return fmt.Errorf("behavior test failed: %w", err)
	}

	if db != nil {
		if err := db.SaveReportRuns(ctx, report.Batch, report.Runs); err != nil {
			return fmt.Errorf("failed to persist runs: %w", err)
		}
		for _, result := range report.Results {
			if err := db.SaveResult(ctx, report.Rubric.TestName, result); err != nil {
				return fmt.Errorf("failed to persist result %s: %w", result.ID, err)
			}
		}
		fmt.Println("Saved results to database")
	}

	if testJSONOutput {
		return printJSON(report)
	}

	if testVerbose {
		printer.PrintPersonas(report.Personas)
		for _, run := range report.Runs {
			printer.PrintTranscript(run)
		}
	}
	printer.PrintSummary(report.Rubric.TestName, report.Summary)

	if report.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d behavior tests failed", report.Summary.Failed, report.Summary.Total)
	}
	return nil
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
