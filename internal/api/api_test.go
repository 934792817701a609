package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/settings"
)

// createTestServer wires a full server against a temporary SQLite database.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpFile.Name(),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	store, err := settings.NewStore(domain.DefaultSettings(), nil)
	if err != nil {
		t.Fatalf("failed to create settings store: %v", err)
	}

	customEngine, err := rules.NewCustomEngine()
	if err != nil {
		t.Fatalf("failed to create custom engine: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, cache.NewLRUCache(100), eventBus, store,
		engine.NewBatchScorer(engine.WithCustomEngine(customEngine)),
		engine.NewAnalyzer(), customEngine, "test-v1")
}

func postJSON(t *testing.T, server *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func apiTx(id, userID string, amount float64) domain.Transaction {
	return domain.Transaction{
		ID:               id,
		UserID:           userID,
		Amount:           amount,
		Merchant:         "Amazon",
		MerchantCategory: "online_retail",
		Location:         "New York, NY",
		CardType:         "Visa",
		Timestamp:        time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulScore", func(t *testing.T) {
		reqBody := ScoreRequest{
			Transactions: []domain.Transaction{
				apiTx("tx-001", "USER_0001", 42.50),
				apiTx("tx-002", "USER_0002", 75.00),
			},
		}

		rr := postJSON(t, server, "/score", reqBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if len(resp.Transactions) != 2 {
			t.Errorf("expected 2 scored transactions, got %d", len(resp.Transactions))
		}
		if resp.Statistics.TotalTransactions != 2 {
			t.Errorf("expected 2 total in statistics, got %d", resp.Statistics.TotalTransactions)
		}
		if resp.RunID != "" {
			t.Error("expected no runId without persist")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("PersistedScore", func(t *testing.T) {
		reqBody := ScoreRequest{
			Transactions: []domain.Transaction{
				apiTx("tx-persist-1", "USER_0003", 120.00),
			},
			Persist: true,
		}

		rr := postJSON(t, server, "/score", reqBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.RunID == "" {
			t.Fatal("expected runId for persisted score")
		}

		// Transaction and score should now be retrievable
		if rr := get(t, server, "/transactions/tx-persist-1"); rr.Code != http.StatusOK {
			t.Errorf("expected persisted transaction, got %d", rr.Code)
		}
		if rr := get(t, server, "/transactions/tx-persist-1/score"); rr.Code != http.StatusOK {
			t.Errorf("expected persisted score, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidTransaction", func(t *testing.T) {
		bad := apiTx("tx-bad", "USER_0001", 10)
		bad.Merchant = ""

		rr := postJSON(t, server, "/score", ScoreRequest{Transactions: []domain.Transaction{bad}})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "tx-bad") {
			t.Errorf("expected offending transaction ID in error, got %s", rr.Body.String())
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/score", ScoreRequest{})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestAnalyzeEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("NewUserAnalysis", func(t *testing.T) {
		rr := postJSON(t, server, "/analyze", apiTx("tx-an-1", "USER_0100", 55.00))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var analysis domain.RiskAnalysis
		if err := json.Unmarshal(rr.Body.Bytes(), &analysis); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if analysis.TransactionID != "tx-an-1" {
			t.Errorf("expected transactionId 'tx-an-1', got '%s'", analysis.TransactionID)
		}
		// Empty population means a new user
		if analysis.RiskScore < 0.3 {
			t.Errorf("expected new-user score >= 0.3, got %.2f", analysis.RiskScore)
		}
		if analysis.Recommendation.Action == "" {
			t.Error("expected recommendation action")
		}

		// The stored analysis should be retrievable by its ID
		if rr := get(t, server, "/analyses/"+analysis.ID); rr.Code != http.StatusOK {
			t.Errorf("expected stored analysis, got %d", rr.Code)
		}
	})

	t.Run("InvalidTransaction", func(t *testing.T) {
		rr := postJSON(t, server, "/analyze", domain.Transaction{ID: "tx-an-bad"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("AnalysisNotFound", func(t *testing.T) {
		if rr := get(t, server, "/analyses/no-such-analysis"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("SaveAndGet", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", SaveTransactionsRequest{
			Transactions: []domain.Transaction{
				apiTx("tx-save-1", "USER_0200", 30),
				apiTx("tx-save-2", "USER_0200", 45),
			},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = get(t, server, "/transactions/tx-save-1")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var tx domain.Transaction
		json.Unmarshal(rr.Body.Bytes(), &tx)
		if tx.UserID != "USER_0200" {
			t.Errorf("expected userId 'USER_0200', got '%s'", tx.UserID)
		}
	})

	t.Run("EmptyBatchRejected", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", SaveTransactionsRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TransactionNotFound", func(t *testing.T) {
		if rr := get(t, server, "/transactions/no-such-tx"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("IngestQueued", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions/ingest", apiTx("tx-ingest-1", "USER_0201", 25))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "queued" {
			t.Errorf("expected status 'queued', got '%s'", resp["status"])
		}
	})

	t.Run("IngestRejectsInvalid", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions/ingest", domain.Transaction{ID: "tx-ingest-bad"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestSettingsEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("GetDefaults", func(t *testing.T) {
		rr := get(t, server, "/settings")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var s domain.Settings
		json.Unmarshal(rr.Body.Bytes(), &s)
		if s.HighRiskThreshold != 0.7 {
			t.Errorf("expected highRiskThreshold 0.7, got %f", s.HighRiskThreshold)
		}
	})

	t.Run("PatchApplied", func(t *testing.T) {
		threshold := 0.9
		req := httptest.NewRequest(http.MethodPatch, "/settings",
			bytes.NewBufferString(`{"highRiskThreshold":0.9}`))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var s domain.Settings
		json.Unmarshal(rr.Body.Bytes(), &s)
		if s.HighRiskThreshold != threshold {
			t.Errorf("expected highRiskThreshold %.1f, got %f", threshold, s.HighRiskThreshold)
		}
	})

	t.Run("InvalidPatchRejectedAtomically", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/settings",
			bytes.NewBufferString(`{"offHoursStart":42,"mediumRiskThreshold":0.5}`))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		// Previous settings survive untouched
		var s domain.Settings
		json.Unmarshal(get(t, server, "/settings").Body.Bytes(), &s)
		if s.HighRiskThreshold != 0.9 {
			t.Errorf("expected highRiskThreshold 0.9 after rejected patch, got %f", s.HighRiskThreshold)
		}
		if s.OffHoursStart != 22 {
			t.Errorf("expected offHoursStart 22 after rejected patch, got %d", s.OffHoursStart)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		rr := postJSON(t, server, "/settings/reset", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var s domain.Settings
		json.Unmarshal(rr.Body.Bytes(), &s)
		if s.HighRiskThreshold != 0.7 {
			t.Errorf("expected highRiskThreshold reset to 0.7, got %f", s.HighRiskThreshold)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateAndList", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:           "high-value",
			Name:         "High Value",
			Expression:   "amount > 100000.0",
			Label:        "Very high value",
			Contribution: 0.5,
			Enabled:      true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = get(t, server, "/rules")
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}

		if rr := get(t, server, "/rules/high-value"); rr.Code != http.StatusOK {
			t.Errorf("expected rule by id, got %d", rr.Code)
		}
	})

	t.Run("InvalidExpressionRejected", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "amount >",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFieldsRejected", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{ID: "x"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := postJSON(t, server, "/rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 rule from database, got %d", resp.Count)
		}
	})

	t.Run("DeleteAndGone", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/rules/high-value", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		if rr := get(t, server, "/rules/high-value"); rr.Code != http.StatusNotFound {
			t.Errorf("expected deleted rule to be gone, got %d", rr.Code)
		}

		// Second delete reports not found
		req = httptest.NewRequest(http.MethodDelete, "/rules/high-value", nil)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 on second delete, got %d", rr.Code)
		}
	})
}

func TestReportEndpoints(t *testing.T) {
	server := createTestServer(t)

	postJSON(t, server, "/transactions", SaveTransactionsRequest{
		Transactions: []domain.Transaction{
			apiTx("tx-rep-1", "USER_0300", 42),
			apiTx("tx-rep-2", "USER_0301", 950),
		},
	})

	t.Run("Summary", func(t *testing.T) {
		rr := get(t, server, "/reports/summary")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
			t.Errorf("expected text/plain content type, got %s", got)
		}
		if !strings.Contains(rr.Body.String(), "FRAUD DETECTION ANALYSIS REPORT") {
			t.Error("expected report header in body")
		}
		if !strings.Contains(rr.Body.String(), "Total Transactions: 2") {
			t.Errorf("expected transaction count in report, got:\n%s", rr.Body.String())
		}
	})

	t.Run("RiskExport", func(t *testing.T) {
		rr := get(t, server, "/reports/risk")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count        int                 `json:"count"`
			Transactions []report.RiskExport `json:"transactions"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 2 {
			t.Errorf("expected 2 exported transactions, got %d", resp.Count)
		}
		for i := 1; i < len(resp.Transactions); i++ {
			if resp.Transactions[i].RiskScore > resp.Transactions[i-1].RiskScore {
				t.Error("expected export sorted by descending risk score")
			}
		}
	})
}

func TestUserProfileEndpoint(t *testing.T) {
	server := createTestServer(t)

	postJSON(t, server, "/transactions", SaveTransactionsRequest{
		Transactions: []domain.Transaction{
			apiTx("tx-prof-1", "USER_0400", 42),
			apiTx("tx-prof-2", "USER_0400", 58),
		},
	})

	t.Run("Found", func(t *testing.T) {
		rr := get(t, server, "/users/USER_0400/profile")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var profile engine.UserProfile
		json.Unmarshal(rr.Body.Bytes(), &profile)
		if profile.TotalTransactions != 2 {
			t.Errorf("expected 2 transactions in profile, got %d", profile.TotalTransactions)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := get(t, server, "/users/USER_9999/profile"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		rr := get(t, server, "/users/USER_0400/stats")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var userStats domain.UserStats
		json.Unmarshal(rr.Body.Bytes(), &userStats)
		if userStats.TransactionCount != 2 {
			t.Errorf("expected 2 transactions, got %d", userStats.TransactionCount)
		}
		if userStats.MeanAmount != 50 {
			t.Errorf("expected mean amount 50, got %f", userStats.MeanAmount)
		}

		// Second call is served from cache
		rr = get(t, server, "/users/USER_0400/stats")
		if rr.Code != http.StatusOK {
			t.Errorf("expected cached status 200, got %d", rr.Code)
		}
	})

	t.Run("StatsNotFound", func(t *testing.T) {
		if rr := get(t, server, "/users/USER_9999/stats"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := get(t, server, "/health")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := get(t, server, "/ready")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
