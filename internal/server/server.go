// Package server provides the HTTP REST API for the simulation engine.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/probelab/agentsim/internal/experiment"
	"github.com/probelab/agentsim/internal/llm"
	"github.com/probelab/agentsim/internal/orchestration"
	"github.com/probelab/agentsim/internal/personas"
	"github.com/probelab/agentsim/internal/scoring"
	"github.com/probelab/agentsim/internal/server/ratelimit"
	"github.com/probelab/agentsim/internal/simulation"
	"github.com/probelab/agentsim/internal/store"
)

// Config holds server configuration.
type Config struct {
	Port          int
	APIKey        string
	AgentEndpoint string
	AgentContext  string
	DatabaseURL   string
}

// Server represents the HTTP server.
type Server struct {
	httpServer  *http.Server
	cfg         Config
	rateLimiter *ratelimit.Limiter

	llmClient    llm.Client
	generator    *personas.Generator
	simulator    *simulation.Simulator
	orchestrator *orchestration.Orchestrator
	compiler     *scoring.Compiler
	scorer       *scoring.Scorer
	aggregator   *experiment.Aggregator
	runner       *experiment.Runner
	db           *store.Store
}

// New creates a new server instance. The database is optional; without a
// DatabaseURL results are kept in memory only.
func New(ctx context.Context, cfg Config) (*Server, error) {
	client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return newServer(cfg, client, db), nil
}

// newServer wires the engine components; tests call it directly with a mock
// client and a nil store.
func newServer(cfg Config, client llm.Client, db *store.Store) *Server {
	s := &Server{
		cfg:       cfg,
		llmClient: client,
		db:        db,
	}

	s.generator = personas.NewGenerator(client)
	s.simulator = simulation.NewSimulator(client)
	s.orchestrator = orchestration.NewOrchestrator(s.simulator, simulation.NewHTTPAgent(cfg.AgentEndpoint))
	s.compiler = scoring.NewCompiler(client)
	s.scorer = scoring.NewScorer(client)
	s.aggregator = experiment.NewAggregator(client)
	s.runner = experiment.NewRunner(s.compiler, s.generator, s.orchestrator, s.scorer, s.aggregator)

	s.rateLimiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /personas", s.handleGeneratePersonas)

	mux.HandleFunc("POST /batches", s.handleCreateBatch)
	mux.HandleFunc("GET /batches", s.handlePollBatches)
	mux.HandleFunc("GET /batches/{id}/runs", s.handlePollRuns)
	mux.HandleFunc("DELETE /batches/{id}", s.handleDeleteBatch)

	mux.HandleFunc("POST /rubrics", s.handleCompileRubric)
	mux.HandleFunc("POST /score", s.handleScoreTranscript)

	mux.HandleFunc("POST /experiments/summary", s.handleSummarizeExperiment)
	mux.HandleFunc("POST /experiments", s.handleRunExperiment)
	mux.HandleFunc("POST /experiments/stream", s.handleRunExperimentStream)
	mux.HandleFunc("GET /experiments/{test_name}/results", s.handleListResults)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 1800 * time.Second, // a streamed behavior test spans many model calls
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for requests and blocks until shutdown.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Let in-flight simulation batches finish recording their state.
	s.orchestrator.Wait()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.db != nil {
		s.db.Close()
	}
	if err := s.llmClient.Close(); err != nil {
		log.Printf("Error closing LLM client: %v", err)
	}
	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// extractClientID extracts the client identifier from the request.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
