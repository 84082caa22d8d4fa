// Package observability provides formatted output utilities for verbose CLI
// mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/probelab/agentsim/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxTurnsToShow caps transcript excerpts in verbose output
	maxTurnsToShow = 6
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPersonas outputs a human-readable listing of generated personas.
func (p *Printer) PrintPersonas(personaList []types.Persona) {
	var sb strings.Builder
	for i, persona := range personaList {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, persona.Summary()))
		sb.WriteString(fmt.Sprintf("   Goal: %s\n", persona.Goal))
		sb.WriteString(fmt.Sprintf("   Tone: %s\n", persona.Tone))
	}
	p.printBox(fmt.Sprintf("Personas (%d)", len(personaList)), strings.TrimRight(sb.String(), "\n"))
}

// PrintBatch outputs one batch's status and per-run progress.
func (p *Printer) PrintBatch(batch types.Batch, runs []types.SimulationRun) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status: %s\n", batch.Status))
	for _, run := range runs {
		line := fmt.Sprintf("run %s  %-9s  %d turns", shortID(run.ID), run.Status, len(run.Transcript))
		if run.Error != "" {
			line += "  " + run.Error
		}
		sb.WriteString(line + "\n")
	}
	p.printBox(fmt.Sprintf("Batch %s", batch.Name), strings.TrimRight(sb.String(), "\n"))
}

// PrintTranscript outputs a transcript excerpt for one run.
func (p *Printer) PrintTranscript(run types.SimulationRun) {
	var sb strings.Builder
	shown := run.Transcript
	truncated := false
	if len(shown) > maxTurnsToShow {
		shown = shown[:maxTurnsToShow]
		truncated = true
	}
	for _, turn := range shown {
		label := "Agent"
		if turn.Role == types.RoleUser {
			label = "Lead"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", label, turn.Content))
	}
	if truncated {
		sb.WriteString(fmt.Sprintf("... and %d more turns\n", len(run.Transcript)-maxTurnsToShow))
	}
	p.printBox(fmt.Sprintf("Run %s (%s)", shortID(run.ID), run.Status), strings.TrimRight(sb.String(), "\n"))
}

// PrintSummary outputs an experiment summary.
func (p *Printer) PrintSummary(testName string, summary types.ExperimentSummary) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Passed:    %d/%d (%.0f%%)\n", summary.Passed, summary.Total, summary.PassRate*100))
	sb.WriteString(fmt.Sprintf("Avg score: %.2f\n", summary.AvgScore))
	if summary.AISummary != "" {
		sb.WriteString("\n" + summary.AISummary + "\n")
	}
	for i, rec := range summary.Recommendations {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, rec))
	}
	p.printBox(fmt.Sprintf("Results: %s", testName), strings.TrimRight(sb.String(), "\n"))
}

// shortID trims a uuid to its first segment for display.
func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	return id
}
