// Package engine implements the two scoring modes: batch scoring of a full
// transaction collection and deep single-transaction analysis against a
// historical population. Both are pure functions of (transactions, settings);
// all statistics are recomputed per call.
package engine

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// BatchScorer applies the batch rule battery across a full transaction
// collection. Safe for concurrent use; every pass takes its own immutable
// Settings snapshot.
type BatchScorer struct {
	policy     rules.BatchPolicy
	custom     *rules.CustomEngine
	maxWorkers int
}

// BatchOption configures a BatchScorer.
type BatchOption func(*BatchScorer)

// WithCustomEngine attaches an engine of operator-defined rules whose
// firings are appended after the built-in battery.
func WithCustomEngine(ce *rules.CustomEngine) BatchOption {
	return func(s *BatchScorer) { s.custom = ce }
}

// WithMaxWorkers bounds the number of concurrent scoring goroutines.
func WithMaxWorkers(n int) BatchOption {
	return func(s *BatchScorer) {
		if n > 0 {
			s.maxWorkers = n
		}
	}
}

// WithBatchPolicy overrides the default constant table.
func WithBatchPolicy(p rules.BatchPolicy) BatchOption {
	return func(s *BatchScorer) { s.policy = p }
}

// NewBatchScorer creates a batch scorer with the default policy.
func NewBatchScorer(opts ...BatchOption) *BatchScorer {
	s := &BatchScorer{
		policy:     rules.DefaultBatchPolicy(),
		maxWorkers: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates the rule battery over the whole collection and returns a
// parallel, order-preserving slice of scored transactions. Global statistics
// are computed once up front and shared read-only; per-record evaluation is
// then independent, so records are scored concurrently without affecting
// determinism.
func (s *BatchScorer) Score(txs []domain.Transaction, settings domain.Settings) []domain.ScoredTransaction {
	if len(txs) == 0 {
		return []domain.ScoredTransaction{}
	}

	amounts := make([]float64, len(txs))
	merchantCounts := make(map[string]int, len(txs))
	for i := range txs {
		amounts[i] = txs[i].Amount
		merchantCounts[txs[i].Merchant]++
	}

	mean := stats.Mean(amounts)
	std := stats.StdDev(amounts)
	velocity := computeVelocityFacts(txs)

	battery := s.policy.Battery()
	results := make([]domain.ScoredTransaction, len(txs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxWorkers)

	for i := range txs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			bc := &rules.BatchContext{
				Settings:       settings,
				AmountMean:     mean,
				AmountStd:      std,
				MerchantCounts: merchantCounts,
				Velocity:       velocity[idx],
			}
			results[idx] = s.scoreOne(&txs[idx], bc, battery, settings)
		}(i)
	}
	wg.Wait()

	return results
}

func (s *BatchScorer) scoreOne(tx *domain.Transaction, bc *rules.BatchContext, battery []rules.BatchRule, settings domain.Settings) domain.ScoredTransaction {
	var fired []rules.Firing
	for _, rule := range battery {
		fired = append(fired, rule.Eval(tx, bc)...)
	}
	if s.custom != nil {
		fired = append(fired, s.custom.Evaluate(tx)...)
	}

	var score float64
	reasons := make([]string, 0, len(fired))
	for _, f := range fired {
		score += f.Contribution
		reasons = append(reasons, f.Label)
	}
	if score > 1.0 {
		score = 1.0
	}

	return domain.ScoredTransaction{
		Transaction:  *tx,
		Hour:         tx.Hour(),
		DayOfWeek:    tx.DayOfWeek(),
		IsWeekend:    tx.IsWeekend(),
		RiskScore:    score,
		IsFraud:      score >= settings.HighRiskThreshold,
		FraudReasons: reasons,
	}
}

// computeVelocityFacts derives the per-record velocity facts from each
// user's timestamp-ordered transaction sequence. Users are independent of
// each other; within a user the sort by timestamp is stable so equal
// timestamps keep input order and scoring stays permutation invariant.
func computeVelocityFacts(txs []domain.Transaction) []rules.VelocityFacts {
	facts := make([]rules.VelocityFacts, len(txs))

	byUser := make(map[string][]int)
	for i := range txs {
		byUser[txs[i].UserID] = append(byUser[txs[i].UserID], i)
	}

	for _, indices := range byUser {
		sort.SliceStable(indices, func(a, b int) bool {
			return txs[indices[a]].Timestamp.Before(txs[indices[b]].Timestamp)
		})

		hourly := make(map[time.Time][]int)
		daily := make(map[string][]int)
		dailySum := make(map[string]float64)

		for seq, idx := range indices {
			tx := &txs[idx]

			if seq > 0 {
				prev := &txs[indices[seq-1]]
				gap := tx.Timestamp.Sub(prev.Timestamp)
				if gap < time.Minute {
					facts[idx].RapidConsecutive = true
				}
				if tx.Location != prev.Location && gap < time.Hour {
					facts[idx].RapidLocationChange = true
				}
			}

			bucket := tx.Timestamp.Truncate(time.Hour)
			hourly[bucket] = append(hourly[bucket], idx)

			date := tx.Timestamp.Format("2006-01-02")
			daily[date] = append(daily[date], idx)
			dailySum[date] += tx.Amount
		}

		for _, bucketIdx := range hourly {
			for _, idx := range bucketIdx {
				facts[idx].HourlyCount = len(bucketIdx)
			}
		}
		for date, dateIdx := range daily {
			for _, idx := range dateIdx {
				facts[idx].DailyAmount = dailySum[date]
			}
		}
	}

	return facts
}

// JoinReasons renders a reason list the way reports display it.
func JoinReasons(reasons []string) string {
	return strings.Join(reasons, ", ")
}

// Statistics aggregates a scored batch into fraud statistics. Risk bands
// follow the reporting convention: high risk is score > 0.7, medium risk is
// 0.4 < score <= 0.7.
func Statistics(scored []domain.ScoredTransaction) domain.FraudStatistics {
	st := domain.FraudStatistics{TotalTransactions: len(scored)}
	if len(scored) == 0 {
		return st
	}

	var scoreSum float64
	for i := range scored {
		t := &scored[i]
		scoreSum += t.RiskScore
		st.TotalAmount += t.Amount
		if t.IsFraud {
			st.FraudTransactions++
			st.FraudAmount += t.Amount
		}
		switch {
		case t.RiskScore > 0.7:
			st.HighRiskTransactions++
		case t.RiskScore > 0.4:
			st.MediumRiskTransactions++
		}
	}

	st.FraudRate = float64(st.FraudTransactions) / float64(st.TotalTransactions)
	if st.TotalAmount > 0 {
		st.FraudAmountRate = st.FraudAmount / st.TotalAmount
	}
	st.AverageRiskScore = scoreSum / float64(st.TotalTransactions)
	return st
}
