package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// memRepo is an in-memory Repository for worker tests.
type memRepo struct {
	mu       sync.Mutex
	txs      []domain.Transaction
	analyses []*domain.RiskAnalysis
}

func (r *memRepo) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, *tx)
	return nil
}

func (r *memRepo) SaveTransactions(ctx context.Context, txs []domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, txs...)
	return nil
}

func (r *memRepo) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.txs {
		if r.txs[i].ID == txID {
			tx := r.txs[i]
			return &tx, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Transaction, len(r.txs))
	copy(out, r.txs)
	return out, nil
}

func (r *memRepo) GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.txs {
		if tx.UserID == userID && !tx.Timestamp.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *memRepo) SaveScoredBatch(ctx context.Context, runID string, scored []domain.ScoredTransaction) error {
	return nil
}

func (r *memRepo) GetScoredTransaction(ctx context.Context, txID string) (*domain.ScoredTransaction, error) {
	return nil, domain.ErrNotFound
}

func (r *memRepo) SaveAnalysis(ctx context.Context, analysis *domain.RiskAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyses = append(r.analyses, analysis)
	return nil
}

func (r *memRepo) GetAnalysis(ctx context.Context, analysisID string) (*domain.RiskAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.analyses {
		if a.ID == analysisID {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) SaveCustomRule(ctx context.Context, rule *domain.CustomRuleConfig) error {
	return nil
}

func (r *memRepo) ListCustomRules(ctx context.Context) ([]*domain.CustomRuleConfig, error) {
	return nil, nil
}

func (r *memRepo) DeleteCustomRule(ctx context.Context, ruleID string) error { return nil }

func (r *memRepo) Ping(ctx context.Context) error { return nil }

func (r *memRepo) Close() error { return nil }

func (r *memRepo) analysisCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.analyses)
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	analyzer := engine.NewAnalyzer()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &memRepo{}, analyzer, nil)

		if err := w.Start(Config{WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("expected topic %q, got %v", domain.TopicTransactionIngested, stats.Topics)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		repo := &memRepo{}
		w := NewWorker(eventBus, repo, analyzer, nil)
		w.Start(Config{WorkerCount: 2})
		defer w.Stop()

		tx := domain.Transaction{
			ID:               "tx-001",
			UserID:           "USER_0001",
			Amount:           42.50,
			Merchant:         "Amazon",
			MerchantCategory: "online_retail",
			Location:         "New York, NY",
			CardType:         "Visa",
			Timestamp:        time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
		}

		payload, _ := json.Marshal(tx)
		if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		deadline := time.Now().Add(2 * time.Second)
		for repo.analysisCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		if repo.analysisCount() != 1 {
			t.Fatalf("expected 1 analysis, got %d", repo.analysisCount())
		}

		saved, err := repo.GetTransaction(context.Background(), "tx-001")
		if err != nil {
			t.Fatalf("transaction not persisted: %v", err)
		}
		if saved.UserID != "USER_0001" {
			t.Errorf("expected userID 'USER_0001', got '%s'", saved.UserID)
		}

		repo.mu.Lock()
		analysis := repo.analyses[0]
		repo.mu.Unlock()

		if analysis.TransactionID != "tx-001" {
			t.Errorf("expected analysis for 'tx-001', got '%s'", analysis.TransactionID)
		}
		// A new user with no history always carries the new-user factor.
		if analysis.RiskScore < 0.3 {
			t.Errorf("expected new-user score >= 0.3, got %.2f", analysis.RiskScore)
		}
	})

	t.Run("InvalidTransactionRejected", func(t *testing.T) {
		repo := &memRepo{}
		w := NewWorker(eventBus, repo, analyzer, nil)
		w.Start(Config{WorkerCount: 1})
		defer w.Stop()

		payload, _ := json.Marshal(domain.Transaction{
			ID:     "tx-bad",
			Amount: -5,
		})
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if repo.analysisCount() != 0 {
			t.Errorf("expected no analysis for invalid transaction, got %d", repo.analysisCount())
		}
		if _, err := repo.GetTransaction(context.Background(), "tx-bad"); err == nil {
			t.Error("invalid transaction should not be persisted")
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		repo := &memRepo{}
		w := NewWorker(eventBus, repo, analyzer, nil)
		w.Start(Config{WorkerCount: 1})
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// New user, off-hours weekend, suspicious location and merchant:
		// stacks well past the review threshold.
		tx := domain.Transaction{
			ID:               "tx-alert",
			UserID:           "USER_9999",
			Amount:           500,
			Merchant:         "Test Shop",
			MerchantCategory: "gambling",
			Location:         "Unknown",
			CardType:         "Visa",
			Timestamp:        time.Date(2025, 6, 14, 3, 0, 0, 0, time.UTC),
		}

		payload, _ := json.Marshal(tx)
		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)

		deadline := time.Now().Add(2 * time.Second)
		for !alertReceived.Load() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		if !alertReceived.Load() {
			t.Error("expected alert to be published for high-risk transaction")
		}
	})

	t.Run("AlertBurst", func(t *testing.T) {
		repo := &memRepo{}
		counters := cache.NewLRUCache(100)
		w := NewWorker(eventBus, repo, analyzer, counters)
		w.Start(Config{
			WorkerCount:    1,
			BurstThreshold: 2,
			BurstWindow:    time.Minute,
		})
		defer w.Stop()

		var burstReceived atomic.Bool

		eventBus.Subscribe(context.Background(), domain.TopicAlertBurst, func(ctx context.Context, msg *domain.Message) error {
			burstReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		for i := 0; i < 3; i++ {
			tx := domain.Transaction{
				ID:               "tx-burst-" + string(rune('a'+i)),
				UserID:           "USER_8888",
				Amount:           500,
				Merchant:         "Fake Store",
				MerchantCategory: "gambling",
				Location:         "Unknown",
				CardType:         "Visa",
				Timestamp:        time.Date(2025, 6, 14, 3, 0, 0, 0, time.UTC),
			}
			payload, _ := json.Marshal(tx)
			eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)
			time.Sleep(20 * time.Millisecond)
		}

		deadline := time.Now().Add(2 * time.Second)
		for !burstReceived.Load() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		if !burstReceived.Load() {
			t.Error("expected alert burst to be published")
		}
	})
}
