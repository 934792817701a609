// Package worker provides async transaction analysis for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker consumes ingested transactions from the EventBus, persists
// them, runs single-transaction analysis against the stored population
// and publishes alerts for high-risk outcomes.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	analyzer *engine.Analyzer
	cache    domain.Cache

	burstThreshold int64
	burstWindow    time.Duration

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of transactions analyzed concurrently.
	WorkerCount int

	// BurstThreshold is the number of alerts within BurstWindow that
	// triggers an alert-burst event. Zero disables burst tracking.
	BurstThreshold int64
	BurstWindow    time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, analyzer *engine.Analyzer, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		analyzer: analyzer,
		cache:    cache,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction ingestion topic.
func (w *Worker) Start(cfg Config) error {
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 4
	}
	w.sem = make(chan struct{}, workerCount)

	w.burstThreshold = cfg.BurstThreshold
	w.burstWindow = cfg.BurstWindow
	if w.burstWindow <= 0 {
		w.burstWindow = time.Minute
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"worker_count", workerCount,
	)

	return nil
}

// handleMessage dispatches an ingested transaction to the pipeline,
// bounded by the worker semaphore.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()

		if err := w.processTransaction(w.ctx, msg); err != nil {
			slog.Error("transaction processing failed",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()

	return nil
}

// processTransaction runs one transaction through the analysis pipeline.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := tx.Validate(); err != nil {
		slog.Warn("rejecting invalid transaction",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	// 1. Fetch the historical population before persisting, so the
	// incoming transaction does not count as its own history.
	history, err := w.repo.ListTransactions(ctx)
	if err != nil {
		slog.Error("failed to load transaction history",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	// 2. Persist the transaction.
	if err := w.repo.SaveTransaction(ctx, &tx); err != nil {
		slog.Error("failed to save transaction",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	// 3. Analyze against the population.
	analysis := w.analyzer.Analyze(tx, history)

	// 4. Save the analysis.
	if err := w.repo.SaveAnalysis(ctx, analysis); err != nil {
		slog.Error("failed to save analysis",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	// 5. Publish alerts for actionable outcomes.
	action := analysis.Recommendation.Action
	if action == domain.ActionBlock || action == domain.ActionReview {
		payload, _ := json.Marshal(analysis)
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}

		w.trackAlertBurst(ctx, analysis)
	}

	slog.Info("transaction analyzed",
		"tx_id", tx.ID,
		"user_id", tx.UserID,
		"action", action,
		"risk_score", analysis.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// trackAlertBurst counts alerts in a sliding window and publishes an
// alert-burst event when the threshold is crossed.
func (w *Worker) trackAlertBurst(ctx context.Context, analysis *domain.RiskAnalysis) {
	if w.cache == nil || w.burstThreshold <= 0 {
		return
	}

	count, err := w.cache.IncrementCounter(ctx, "alerts", w.burstWindow)
	if err != nil {
		slog.Error("failed to increment alert counter", "error", err)
		return
	}

	if count == w.burstThreshold {
		payload, _ := json.Marshal(map[string]any{
			"alertCount":    count,
			"windowSeconds": int(w.burstWindow.Seconds()),
			"lastTxId":      analysis.TransactionID,
		})
		if err := w.bus.Publish(ctx, domain.TopicAlertBurst, payload); err != nil {
			slog.Error("failed to publish alert burst", "error", err)
		}

		slog.Warn("alert burst detected",
			"alert_count", count,
			"window", w.burstWindow,
		)
	}
}

// Stop gracefully stops the worker and waits for in-flight analyses.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
