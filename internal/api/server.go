package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/settings"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *settings.Store, scorer *engine.BatchScorer, analyzer *engine.Analyzer, customEngine *rules.CustomEngine, version string) *Server {
	handler := NewHandler(repo, cache, bus, store, scorer, analyzer, customEngine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Scoring
	router.Post("/score", handler.ScoreBatch)
	router.Post("/analyze", handler.Analyze)

	// Transactions
	router.Post("/transactions", handler.SaveTransactions)
	router.Post("/transactions/ingest", handler.IngestTransaction)
	router.Get("/transactions/{id}", handler.GetTransaction)
	router.Get("/transactions/{id}/score", handler.GetScoredTransaction)

	// Analyses
	router.Get("/analyses/{id}", handler.GetAnalysis)

	// Settings
	router.Get("/settings", handler.GetSettings)
	router.Patch("/settings", handler.UpdateSettings)
	router.Post("/settings/reset", handler.ResetSettings)

	// Custom rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)
	router.Delete("/rules/{id}", handler.DeleteRule)

	// Reports
	router.Get("/reports/summary", handler.SummaryReport)
	router.Get("/reports/risk", handler.RiskReport)

	// User profiles
	router.Get("/users/{id}/profile", handler.GetUserProfile)
	router.Get("/users/{id}/stats", handler.GetUserStats)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
