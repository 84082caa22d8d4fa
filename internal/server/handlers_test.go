package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/agentsim/internal/experiment"
	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/types"
)

// MockLLMClient implements llm.Client for testing.
type MockLLMClient struct {
	GenerateTextFunc func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
	GenerateJSONFunc func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error)
}

func (m *MockLLMClient) GenerateText(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	if m.GenerateTextFunc != nil {
		return m.GenerateTextFunc(ctx, prompt, tier)
	}
	return "Hello, I would like some help.", nil
}

func (m *MockLLMClient) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	if m.GenerateJSONFunc != nil {
		return m.GenerateJSONFunc(ctx, prompt, tier)
	}
	return "{}", nil
}

func (m *MockLLMClient) GetModel(tier llm.ModelTier) string { return "mock-model" }

func (m *MockLLMClient) Close() error { return nil }

// newTestServer wires a server around a mock client, no database, and a
// stub agent endpoint that always answers.
func newTestServer(t *testing.T, mock *MockLLMClient) *Server {
	t.Helper()

	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply": "Happy to help with that."}`)) //nolint:errcheck
	}))
	t.Cleanup(agentSrv.Close)

	s := newServer(Config{Port: 0, AgentEndpoint: agentSrv.URL, AgentContext: "A dental clinic booking assistant."}, mock, nil)
	t.Cleanup(func() {
		s.orchestrator.Wait()
		s.rateLimiter.Stop()
	})
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func personaBatchJSON(n int) string {
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(
			`{"name": "Caller %d", "role": "Patient", "goal": "book a cleaning", "context": "new to the clinic", "tone": "polite"}`, i))
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &MockLLMClient{})

	rec := doJSON(t, s, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestGeneratePersonas(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
			return personaBatchJSON(3), nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/personas", map[string]any{
		"count":       3,
		"description": "impatient callers",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Personas []types.Persona `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Personas, 3)
	for _, p := range resp.Personas {
		assert.NotEmpty(t, p.ID)
		assert.NoError(t, p.Validate())
	}
}

func TestGeneratePersonasBehaviorMode(t *testing.T) {
	var seenPrompt string
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
			seenPrompt = prompt
			return personaBatchJSON(2), nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/personas", map[string]any{
		"count":        2,
		"behavior":     "agent asks for a callback number",
		"persona_hint": "people who are hard to reach",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, seenPrompt, "agent asks for a callback number")
	assert.Contains(t, seenPrompt, "people who are hard to reach")
}

func TestGeneratePersonasBadRequest(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return personaBatchJSON(2), nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/personas", map[string]any{"count": 0, "description": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, "POST", "/personas", map[string]any{"count": 2})
	// falls back to the configured agent context
	assert.Equal(t, http.StatusOK, rec.Code)
}

func validPersona(id string) types.Persona {
	return types.Persona{
		ID:      id,
		Name:    "Dana Reyes",
		Role:    "Office Manager",
		Goal:    "book a same-week appointment",
		Context: "calls from work",
		Tone:    "brisk",
	}
}

func TestBatchLifecycle(t *testing.T) {
	s := newTestServer(t, &MockLLMClient{})

	rec := doJSON(t, s, "POST", "/batches", map[string]any{
		"name":      "callback-test",
		"personas":  []types.Persona{validPersona(""), validPersona("")},
		"max_turns": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Batch types.Batch           `json:"batch"`
		Runs  []types.SimulationRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Batch.ID)
	require.Len(t, created.Runs, 2)

	s.orchestrator.Wait()

	rec = doJSON(t, s, "GET", "/batches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Batches []types.Batch `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Batches, 1)
	assert.Equal(t, types.BatchCompleted, listed.Batches[0].Status)

	rec = doJSON(t, s, "GET", "/batches/"+created.Batch.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var polled struct {
		Runs []types.SimulationRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
	require.Len(t, polled.Runs, 2)
	for _, run := range polled.Runs {
		assert.Equal(t, types.RunCompleted, run.Status)
		assert.Len(t, run.Transcript, 2)
	}

	rec = doJSON(t, s, "DELETE", "/batches/"+created.Batch.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, "GET", "/batches/"+created.Batch.ID+"/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBatchValidation(t *testing.T) {
	s := newTestServer(t, &MockLLMClient{})

	rec := doJSON(t, s, "POST", "/batches", map[string]any{
		"personas": []types.Persona{validPersona("p1")},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing name")

	rec = doJSON(t, s, "POST", "/batches", map[string]any{"name": "t"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no personas")

	broken := validPersona("p1")
	broken.Goal = ""
	rec = doJSON(t, s, "POST", "/batches", map[string]any{
		"name":     "t",
		"personas": []types.Persona{broken},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "invalid persona")
}

func TestDeleteUnknownBatch(t *testing.T) {
	s := newTestServer(t, &MockLLMClient{})

	rec := doJSON(t, s, "DELETE", "/batches/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompileRubric(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return `{
				"scorer_prompt_template": "Judge it. Persona: {{persona}} Conversation: {{conversation}}",
				"test_name": "asks-for-callback-number",
				"persona_hint": "hard to reach people"
			}`, nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/rubrics", map[string]any{"description": "agent asks for a callback number"})
	require.Equal(t, http.StatusOK, rec.Code)

	var rubric types.ScorerRubric
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rubric))
	assert.Equal(t, "asks-for-callback-number", rubric.TestName)
}

func TestCompileRubricMissingPlaceholder(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return `{"scorer_prompt_template": "Judge {{conversation}} only.", "test_name": "t"}`, nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/rubrics", map[string]any{"description": "whatever"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScoreTranscript(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return `{"score": 1.0, "rationale": "asked for the number on turn two"}`, nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/score", map[string]any{
		"rubric": types.ScorerRubric{
			ScorerPromptTemplate: "Judge it. Persona: {{persona}} Conversation: {{conversation}}",
			TestName:             "asks-for-callback-number",
		},
		"transcript": []types.ConversationTurn{
			{Role: types.RoleUser, Content: "Hi, I need an appointment."},
			{Role: types.RoleAssistant, Content: "Sure. What number can we reach you on?"},
		},
		"persona": validPersona("p1"),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.BehaviorTestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1.0, result.Score)
	assert.True(t, result.Passed)
	assert.NotEmpty(t, result.ID)
}

func TestScoreTranscriptInvalidRubric(t *testing.T) {
	s := newTestServer(t, &MockLLMClient{})

	rec := doJSON(t, s, "POST", "/score", map[string]any{
		"rubric":     types.ScorerRubric{ScorerPromptTemplate: "no placeholders", TestName: "t"},
		"transcript": []types.ConversationTurn{{Role: types.RoleUser, Content: "hi"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarizeExperimentFallback(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return "", fmt.Errorf("model unavailable")
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/experiments/summary", map[string]any{
		"test_name": "t",
		"results": []types.BehaviorTestResult{
			{Score: 1.0, Passed: true},
			{Score: 0.2, Passed: false},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var summary types.ExperimentSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, "1/2 tests passed with an average score of 0.60.", summary.AISummary)
}

func TestListResultsWithoutDatabase(t *testing.T) {
	s := newTestServer(t, &MockLLMClient{})

	rec := doJSON(t, s, "GET", "/experiments/asks-for-callback-number/results", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// experimentMock routes JSON calls by prompt markers so one mock can serve
// the whole behavior-test flow.
func experimentMock() *MockLLMClient {
	return &MockLLMClient{
		GenerateTextFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return "Hi, can you fit me in this week?", nil
		},
		GenerateJSONFunc: func(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
			switch {
			case strings.Contains(prompt, "designing an automated judge"):
				return `{
					"scorer_prompt_template": "Judge the booking. Persona: {{persona}} Conversation: {{conversation}}",
					"test_name": "books-appointment",
					"persona_hint": "walk-in patients"
				}`, nil
			case strings.Contains(prompt, "Generate exactly"):
				return personaBatchJSON(2), nil
			case strings.Contains(prompt, "Judge the booking."):
				return `{"score": 1.0, "rationale": "appointment was booked"}`, nil
			case strings.Contains(prompt, "reviewing the results"):
				return `{"summary": "All callers got booked.", "recommendations": ["none"]}`, nil
			default:
				return "", fmt.Errorf("unexpected JSON prompt: %.60s", prompt)
			}
		},
	}
}

func TestRunExperiment(t *testing.T) {
	s := newTestServer(t, experimentMock())

	rec := doJSON(t, s, "POST", "/experiments", map[string]any{
		"description":   "agent books an appointment",
		"persona_count": 2,
		"max_turns":     1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report experiment.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "books-appointment", report.Rubric.TestName)
	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Summary.Passed)
	assert.Equal(t, "All callers got booked.", report.Summary.AISummary)
	assert.Equal(t, types.BatchCompleted, report.Batch.Status)
}

func TestRunExperimentStream(t *testing.T) {
	s := newTestServer(t, experimentMock())

	rec := doJSON(t, s, "POST", "/experiments/stream", map[string]any{
		"description":   "agent books an appointment",
		"persona_count": 1,
		"max_turns":     1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: report")
	assert.Contains(t, body, "books-appointment")
}

func TestRateLimitHeadersPresent(t *testing.T) {
	mock := &MockLLMClient{
		GenerateJSONFunc: func(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
			return personaBatchJSON(1), nil
		},
	}
	s := newTestServer(t, mock)

	rec := doJSON(t, s, "POST", "/personas", map[string]any{"count": 1, "description": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
}
