// Package main provides the entry point for the agent simulation engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentsim",
	Short: "Agent behavior simulation and evaluation engine",
	Long:  "agentsim generates synthetic user personas, simulates multi-turn conversations against a conversational agent, and scores the transcripts with compiled LLM judges.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
