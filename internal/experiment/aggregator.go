// Package experiment folds behavior test results into pass/fail statistics
// and model-authored recommendations, and composes the full behavior-testing
// flow from rubric compilation through scoring.
package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/prompts"
	"github.com/probelab/agentsim/internal/types"
)

// maxPassedSamples caps how many passed-result rationales are fed to the
// insight prompt. Failed rationales are always included in full.
const maxPassedSamples = 3

// Summarize reduces a result set to pass/fail statistics. An empty result
// set reports total=0 with zeroed rates; nothing divides by zero.
func Summarize(results []types.BehaviorTestResult) types.ExperimentSummary {
	summary := types.ExperimentSummary{Total: len(results)}
	if summary.Total == 0 {
		return summary
	}

	var scoreSum float64
	for _, r := range results {
		if r.Passed {
			summary.Passed++
		}
		scoreSum += r.Score
	}
	summary.Failed = summary.Total - summary.Passed
	summary.PassRate = float64(summary.Passed) / float64(summary.Total)
	summary.AvgScore = scoreSum / float64(summary.Total)
	return summary
}

// Aggregator adds the model-authored insight step on top of Summarize.
type Aggregator struct {
	client llm.Client
}

// NewAggregator creates an aggregator backed by the given client.
func NewAggregator(client llm.Client) *Aggregator {
	return &Aggregator{client: client}
}

// insightResponse is the JSON shape the insight prompt asks for.
type insightResponse struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
}

// SummarizeExperiment computes the statistics and attaches AI insight.
// The insight step is best-effort: any failure degrades to a deterministic
// fallback summary and an empty recommendation list. This method never
// returns an error.
func (a *Aggregator) SummarizeExperiment(ctx context.Context, testName string, results []types.BehaviorTestResult) types.ExperimentSummary {
	summary := Summarize(results)
	if summary.Total == 0 {
		summary.AISummary = fallbackSummary(summary)
		return summary
	}

	aiSummary, recommendations, err := a.generateInsights(ctx, testName, summary, results)
	if err != nil {
		summary.AISummary = fallbackSummary(summary)
		summary.Recommendations = nil
		return summary
	}

	summary.AISummary = aiSummary
	summary.Recommendations = recommendations
	return summary
}

// generateInsights prompts the model with every failed rationale and a small
// sample of passed ones.
func (a *Aggregator) generateInsights(ctx context.Context, testName string, summary types.ExperimentSummary, results []types.BehaviorTestResult) (string, []string, error) {
	var failed, passed []string
	for _, r := range results {
		if r.Passed {
			if len(passed) < maxPassedSamples {
				passed = append(passed, "- "+r.Rationale)
			}
			continue
		}
		failed = append(failed, "- "+r.Rationale)
	}
	if len(failed) == 0 {
		failed = append(failed, "(none)")
	}
	if len(passed) == 0 {
		passed = append(passed, "(none)")
	}

	prompt := prompts.MustFormat("insights.json", "experiment-insights", map[string]string{
		"TestName":         testName,
		"Passed":           fmt.Sprintf("%d", summary.Passed),
		"Total":            fmt.Sprintf("%d", summary.Total),
		"AvgScore":         fmt.Sprintf("%.2f", summary.AvgScore),
		"FailedRationales": strings.Join(failed, "\n"),
		"PassedRationales": strings.Join(passed, "\n"),
	})

	raw, err := a.client.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return "", nil, err
	}

	var resp insightResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", nil, fmt.Errorf("unparsable insight response: %w", err)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return "", nil, fmt.Errorf("insight response missing summary")
	}
	return resp.Summary, resp.Recommendations, nil
}

// fallbackSummary is the deterministic stand-in when the insight step fails.
func fallbackSummary(summary types.ExperimentSummary) string {
	return fmt.Sprintf("%d/%d tests passed with an average score of %.2f.",
		summary.Passed, summary.Total, summary.AvgScore)
}
