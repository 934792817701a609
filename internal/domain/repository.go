package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a lookup for a record that does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for data persistence. The stored
// transaction set is the historical population that single-transaction
// analysis runs against.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	SaveTransactions(ctx context.Context, txs []Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]Transaction, error)

	// Batch scoring results, grouped by run ID
	SaveScoredBatch(ctx context.Context, runID string, scored []ScoredTransaction) error
	GetScoredTransaction(ctx context.Context, txID string) (*ScoredTransaction, error)

	// Single-transaction analyses
	SaveAnalysis(ctx context.Context, analysis *RiskAnalysis) error
	GetAnalysis(ctx context.Context, analysisID string) (*RiskAnalysis, error)

	// Custom rule configurations
	SaveCustomRule(ctx context.Context, rule *CustomRuleConfig) error
	ListCustomRules(ctx context.Context) ([]*CustomRuleConfig, error)
	DeleteCustomRule(ctx context.Context, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}
