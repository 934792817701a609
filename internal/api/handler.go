package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/settings"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	store        *settings.Store
	scorer       *engine.BatchScorer
	analyzer     *engine.Analyzer
	customEngine *rules.CustomEngine
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *settings.Store, scorer *engine.BatchScorer, analyzer *engine.Analyzer, customEngine *rules.CustomEngine, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		store:        store,
		scorer:       scorer,
		analyzer:     analyzer,
		customEngine: customEngine,
		version:      version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Transactions []domain.Transaction `json:"transactions"`

	// Persist stores the transactions and their scores under a new run ID.
	Persist bool `json:"persist,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	RunID        string                     `json:"runId,omitempty"`
	Transactions []domain.ScoredTransaction `json:"transactions"`
	Statistics   domain.FraudStatistics     `json:"statistics"`
	Metadata     struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// ScoreBatch handles POST /score requests: the whole battery over a batch
// of transactions using the settings currently in effect.
func (h *Handler) ScoreBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := domain.ValidateAll(req.Transactions); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	scored := h.scorer.Score(req.Transactions, h.store.Current())
	batchStats := engine.Statistics(scored)

	resp := ScoreResponse{
		Transactions: scored,
		Statistics:   batchStats,
	}

	if req.Persist && h.repo != nil {
		runID := uuid.New().String()

		if err := h.repo.SaveTransactions(ctx, req.Transactions); err != nil {
			slog.Error("failed to save batch transactions", "run_id", runID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to persist transactions",
			})
			return
		}
		if err := h.repo.SaveScoredBatch(ctx, runID, scored); err != nil {
			slog.Error("failed to save scored batch", "run_id", runID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to persist scores",
			})
			return
		}

		resp.RunID = runID

		if h.bus != nil {
			event, _ := json.Marshal(map[string]any{
				"runId":      runID,
				"count":      batchStats.TotalTransactions,
				"fraudCount": batchStats.FraudTransactions,
			})
			if err := h.bus.Publish(ctx, domain.TopicBatchScored, event); err != nil {
				slog.Error("failed to publish batch scored event", "run_id", runID, "error", err)
			}
		}
	}

	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	slog.Info("batch scored",
		"count", batchStats.TotalTransactions,
		"fraud_count", batchStats.FraudTransactions,
		"persisted", req.Persist,
		"duration_ms", resp.Metadata.TotalMs,
	)

	writeJSON(w, http.StatusOK, resp)
}

// Analyze handles POST /analyze requests: one transaction evaluated against
// the stored historical population.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := tx.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	var history []domain.Transaction
	if h.repo != nil {
		var err error
		history, err = h.repo.ListTransactions(ctx)
		if err != nil {
			slog.Error("failed to load transaction history", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to load transaction history",
			})
			return
		}
	}

	analysis := h.analyzer.Analyze(tx, history)

	if h.repo != nil {
		if err := h.repo.SaveAnalysis(ctx, analysis); err != nil {
			slog.Error("failed to save analysis", "tx_id", tx.ID, "error", err)
		}
	}

	slog.Info("transaction analyzed",
		"tx_id", tx.ID,
		"risk_score", analysis.RiskScore,
		"action", analysis.Recommendation.Action,
	)

	writeJSON(w, http.StatusOK, analysis)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// SaveTransactionsRequest is the request body for POST /transactions.
type SaveTransactionsRequest struct {
	Transactions []domain.Transaction `json:"transactions"`
}

// SaveTransactions stores a batch of transactions in the historical
// population without scoring them.
func (h *Handler) SaveTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SaveTransactionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.SaveTransactions(ctx, req.Transactions); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to save transactions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"saved": len(req.Transactions),
	})
}

// IngestTransaction publishes one transaction to the event bus for async
// analysis by the worker.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := tx.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	payload, _ := json.Marshal(tx)
	if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		slog.Error("failed to publish transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue transaction",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"txId":   tx.ID,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetScoredTransaction retrieves the most recent batch score for a transaction.
func (h *Handler) GetScoredTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	scored, err := h.repo.GetScoredTransaction(ctx, txID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get scored transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "scored transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, scored)
}

// GetAnalysis retrieves a stored risk analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	analysisID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	analysis, err := h.repo.GetAnalysis(ctx, analysisID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get analysis", "id", analysisID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// GetSettings returns the scoring settings currently in effect.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Current())
}

// UpdateSettings merges a partial settings update. Validation failures
// leave the current settings untouched.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	updated, err := h.store.Update(patch)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ResetSettings restores the default scoring settings.
func (h *Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Reset())
}

// ListRules returns all loaded custom rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.customEngine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a custom rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.customEngine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Expression   string  `json:"expression"`
	Label        string  `json:"label"`
	Contribution float64 `json:"contribution"`
	Enabled      bool    `json:"enabled"`
}

// CreateRule creates a new custom rule and saves it to the database.
// The CEL expression is compiled before anything is persisted.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	now := time.Now().UTC()
	ruleConfig := &domain.CustomRuleConfig{
		ID:           req.ID,
		Name:         req.Name,
		Description:  req.Description,
		Expression:   req.Expression,
		Label:        req.Label,
		Contribution: req.Contribution,
		Enabled:      req.Enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Validate CEL expression by attempting to load
	if err := h.customEngine.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveCustomRule(ctx, ruleConfig); err != nil {
			slog.Error("failed to save custom rule", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("custom rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule created and loaded.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListCustomRules(ctx)
	if err != nil {
		slog.Error("failed to list custom rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.customEngine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload custom rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("custom rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// DeleteRule disables a custom rule and removes it from the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if h.repo != nil {
		if err := h.repo.DeleteCustomRule(ctx, ruleID); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				slog.Error("failed to delete custom rule", "id", ruleID, "error", err)
			}
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
	}

	h.customEngine.RemoveRule(ruleID)

	slog.Info("custom rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule deleted and unloaded.",
	})
}

// SummaryReport returns the plain-text fraud summary for the stored
// population scored with the settings currently in effect.
func (h *Handler) SummaryReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	txs, err := h.repo.ListTransactions(ctx)
	if err != nil {
		slog.Error("failed to list transactions for report", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transactions",
		})
		return
	}

	scored := h.scorer.Score(txs, h.store.Current())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(report.Summary(scored, time.Now().UTC())))
}

// RiskReport returns the stored population scored and sorted by descending
// risk score.
func (h *Handler) RiskReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	txs, err := h.repo.ListTransactions(ctx)
	if err != nil {
		slog.Error("failed to list transactions for report", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transactions",
		})
		return
	}

	scored := h.scorer.Score(txs, h.store.Current())
	export := report.ExportByRisk(scored)

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": export,
		"count":        len(export),
	})
}

// GetUserProfile returns the behavioral profile for one user built from
// the stored population.
func (h *Handler) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	history, err := h.repo.GetTransactionsByUser(ctx, userID, time.Time{})
	if err != nil {
		slog.Error("failed to load user transactions", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load user transactions",
		})
		return
	}

	profile, err := engine.BuildUserProfile(userID, history)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "user not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// userStatsTTL bounds staleness of the cached per-user summaries.
const userStatsTTL = 5 * time.Minute

// GetUserStats returns the summary statistics for one user's history,
// served from cache when fresh.
func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")

	if h.cache != nil {
		if cached, err := h.cache.GetUserStats(ctx, userID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	history, err := h.repo.GetTransactionsByUser(ctx, userID, time.Time{})
	if err != nil {
		slog.Error("failed to load user transactions", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load user transactions",
		})
		return
	}
	if len(history) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "user not found",
		})
		return
	}

	amounts := make([]float64, len(history))
	first, last := history[0].Timestamp, history[0].Timestamp
	var total float64
	for i := range history {
		amounts[i] = history[i].Amount
		total += history[i].Amount
		if history[i].Timestamp.Before(first) {
			first = history[i].Timestamp
		}
		if history[i].Timestamp.After(last) {
			last = history[i].Timestamp
		}
	}

	ageDays := int(last.Sub(first).Hours() / 24)
	if ageDays < 1 {
		ageDays = 1
	}

	userStats := &domain.UserStats{
		UserID:           userID,
		TransactionCount: len(history),
		MeanAmount:       stats.Mean(amounts),
		StdAmount:        stats.StdDev(amounts),
		AvgDailySpend:    total / float64(ageDays),
		LastSeen:         last,
	}

	if h.cache != nil {
		if err := h.cache.SetUserStats(ctx, userID, userStats, userStatsTTL); err != nil {
			slog.Error("failed to cache user stats", "user_id", userID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, userStats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
