package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/probelab/agentsim/internal/experiment"
	"github.com/probelab/agentsim/internal/orchestration"
	"github.com/probelab/agentsim/internal/scoring"
	"github.com/probelab/agentsim/internal/types"
)

// generatePersonasRequest selects one of the three generation modes: a free
// persona description, a behavior to trigger, or the agent context alone.
type generatePersonasRequest struct {
	Count        int    `json:"count"`
	Description  string `json:"description,omitempty"`
	Behavior     string `json:"behavior,omitempty"`
	PersonaHint  string `json:"persona_hint,omitempty"`
	AgentContext string `json:"agent_context,omitempty"`
}

func (s *Server) handleGeneratePersonas(w http.ResponseWriter, r *http.Request) {
	var req generatePersonasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Count <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "count must be positive")
		return
	}

	agentContext := req.AgentContext
	if agentContext == "" {
		agentContext = s.cfg.AgentContext
	}

	var (
		personaList []types.Persona
		err         error
	)
	switch {
	case req.Behavior != "":
		personaList, err = s.generator.GenerateForBehavior(r.Context(), req.Count, req.Behavior, req.PersonaHint, agentContext)
	case req.Description != "":
		personaList, err = s.generator.Generate(r.Context(), req.Count, req.Description, agentContext)
	case agentContext != "":
		personaList, err = s.generator.GenerateFromContext(r.Context(), req.Count, agentContext)
	default:
		s.errorResponse(w, http.StatusBadRequest, "one of description, behavior or agent_context is required")
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("persona generation failed: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"personas": personaList})
}

type createBatchRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Personas    []types.Persona `json:"personas"`
	MaxTurns    int             `json:"max_turns,omitempty"`
	Parallelism int             `json:"parallelism,omitempty"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		s.errorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Personas) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "at least one persona is required")
		return
	}
	for i := range req.Personas {
		if req.Personas[i].ID == "" {
			req.Personas[i].ID = uuid.New().String()
		}
		if err := req.Personas[i].Validate(); err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("persona %d: %v", i, err))
			return
		}
	}

	batch, runs := s.orchestrator.CreateBatch(types.BatchConfig{
		Name:        req.Name,
		Description: req.Description,
		MaxTurns:    req.MaxTurns,
		Parallelism: req.Parallelism,
		AgentName:   s.cfg.AgentEndpoint,
	}, req.Personas)

	if s.db != nil {
		if err := s.db.SaveBatch(r.Context(), batch); err != nil {
			log.Printf("Error persisting batch %s: %v", batch.ID, err)
		}
	}

	s.jsonResponse(w, http.StatusCreated, map[string]any{"batch": batch, "runs": runs})
}

func (s *Server) handlePollBatches(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"batches": s.orchestrator.PollBatches()})
}

func (s *Server) handlePollRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.orchestrator.PollRuns(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, orchestration.ErrBatchNotFound) {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.DeleteBatch(r.PathValue("id")); err != nil {
		if errors.Is(err, orchestration.ErrBatchNotFound) {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type compileRubricRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleCompileRubric(w http.ResponseWriter, r *http.Request) {
	var req compileRubricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Description == "" {
		s.errorResponse(w, http.StatusBadRequest, "description is required")
		return
	}

	rubric, err := s.compiler.Compile(r.Context(), req.Description)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("rubric compilation failed: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, rubric)
}

type scoreRequest struct {
	Rubric     types.ScorerRubric       `json:"rubric"`
	Transcript []types.ConversationTurn `json:"transcript"`
	Persona    types.Persona            `json:"persona"`
}

func (s *Server) handleScoreTranscript(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Rubric.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Transcript) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "transcript is empty")
		return
	}

	res, err := s.scorer.Score(r.Context(), req.Rubric, req.Transcript, req.Persona)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("scoring failed: %v", err))
		return
	}
	result := scoring.BuildResult(req.Persona, req.Transcript, res)

	if s.db != nil {
		if err := s.db.SaveResult(r.Context(), req.Rubric.TestName, result); err != nil {
			log.Printf("Error persisting result %s: %v", result.ID, err)
		}
	}

	s.jsonResponse(w, http.StatusOK, result)
}

type summarizeRequest struct {
	TestName string                     `json:"test_name"`
	Results  []types.BehaviorTestResult `json:"results"`
}

func (s *Server) handleSummarizeExperiment(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	summary := s.aggregator.SummarizeExperiment(r.Context(), req.TestName, req.Results)
	s.jsonResponse(w, http.StatusOK, summary)
}

// runExperimentRequest describes a full behavior test.
type runExperimentRequest struct {
	Description  string `json:"description"`
	PersonaCount int    `json:"persona_count,omitempty"`
	AgentContext string `json:"agent_context,omitempty"`
	MaxTurns     int    `json:"max_turns,omitempty"`
	Parallelism  int    `json:"parallelism,omitempty"`
}

func (s *Server) decodeExperimentRequest(r *http.Request) (runExperimentRequest, error) {
	var req runExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Description == "" {
		return req, fmt.Errorf("description is required")
	}
	if req.AgentContext == "" {
		req.AgentContext = s.cfg.AgentContext
	}
	return req, nil
}

func (s *Server) runExperiment(ctx context.Context, req runExperimentRequest, onProgress func(experiment.ProgressEvent)) (*experiment.Report, error) {
	report, err := s.runner.RunBehaviorTest(ctx, req.Description, experiment.RunOptions{
		PersonaCount: req.PersonaCount,
		AgentContext: req.AgentContext,
		MaxTurns:     req.MaxTurns,
		Parallelism:  req.Parallelism,
		OnProgress:   onProgress,
	})
	if err != nil {
		return nil, err
	}

	if s.db != nil {
		if err := s.db.SaveReportRuns(ctx, report.Batch, report.Runs); err != nil {
			log.Printf("Error persisting runs for batch %s: %v", report.Batch.ID, err)
		}
		for _, result := range report.Results {
			if err := s.db.SaveResult(ctx, report.Rubric.TestName, result); err != nil {
				log.Printf("Error persisting result %s: %v", result.ID, err)
			}
		}
	}
	return report, nil
}

func (s *Server) handleRunExperiment(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeExperimentRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.runExperiment(r.Context(), req, nil)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("behavior test failed: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) handleRunExperimentStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeExperimentRequest(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	report, err := s.runExperiment(r.Context(), req, func(ev experiment.ProgressEvent) {
		sse.WriteEvent("progress", ev) //nolint:errcheck // client gone, nothing to do
	})
	if err != nil {
		sse.WriteError(fmt.Sprintf("behavior test failed: %v", err))
		return
	}
	sse.WriteReport(report)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	results, err := s.db.ListResults(r.Context(), r.PathValue("test_name"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("failed to list results: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"results": results})
}
