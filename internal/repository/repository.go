// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Sentinel errors shared with the domain package so callers can match
// with errors.Is regardless of which layer produced them.
var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores one transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, merchant, merchant_category,
			location, card_type, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			amount = excluded.amount,
			merchant = excluded.merchant,
			merchant_category = excluded.merchant_category,
			location = excluded.location,
			card_type = excluded.card_type,
			timestamp = excluded.timestamp
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Merchant, tx.MerchantCategory,
		tx.Location, tx.CardType, tx.Timestamp, time.Now().UTC(),
	)
	return err
}

// SaveTransactions stores a collection inside one database transaction, so
// a failed batch leaves nothing behind.
func (r *SQLRepository) SaveTransactions(ctx context.Context, txs []domain.Transaction) error {
	if err := domain.ValidateAll(txs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO transactions (
			id, user_id, amount, merchant, merchant_category,
			location, card_type, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)

	now := time.Now().UTC()
	for i := range txs {
		t := &txs[i]
		if _, err := dbTx.ExecContext(ctx, query,
			t.ID, t.UserID, t.Amount, t.Merchant, t.MerchantCategory,
			t.Location, t.CardType, t.Timestamp, now,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, merchant, merchant_category,
			   location, card_type, timestamp
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Merchant, &tx.MerchantCategory,
		&tx.Location, &tx.CardType, &tx.Timestamp,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactions returns the full stored population ordered by timestamp.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, merchant, merchant_category,
			   location, card_type, timestamp
		FROM transactions
		ORDER BY timestamp
	`
	return r.queryTransactions(ctx, query)
}

// GetTransactionsByUser retrieves one user's transactions since the given
// instant, newest first.
func (r *SQLRepository) GetTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, amount, merchant, merchant_category,
			   location, card_type, timestamp
		FROM transactions
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`
	return r.queryTransactions(ctx, query, userID, since)
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Amount, &tx.Merchant, &tx.MerchantCategory,
			&tx.Location, &tx.CardType, &tx.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// SaveScoredBatch stores the result of one scoring run.
func (r *SQLRepository) SaveScoredBatch(ctx context.Context, runID string, scored []domain.ScoredTransaction) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	query := r.rebind(`
		INSERT INTO scored_transactions (
			tx_id, run_id, risk_score, is_fraud, fraud_reasons, scored_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tx_id, run_id) DO UPDATE SET
			risk_score = excluded.risk_score,
			is_fraud = excluded.is_fraud,
			fraud_reasons = excluded.fraud_reasons,
			scored_at = excluded.scored_at
	`)

	now := time.Now().UTC()
	for i := range scored {
		s := &scored[i]
		reasons, _ := json.Marshal(s.FraudReasons)

		fraud := 0
		if s.IsFraud {
			fraud = 1
		}
		if _, err := dbTx.ExecContext(ctx, query,
			s.ID, runID, s.RiskScore, fraud, string(reasons), now,
		); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

// GetScoredTransaction returns the most recent score for a transaction,
// joined with its stored facts.
func (r *SQLRepository) GetScoredTransaction(ctx context.Context, txID string) (*domain.ScoredTransaction, error) {
	query := `
		SELECT t.id, t.user_id, t.amount, t.merchant, t.merchant_category,
			   t.location, t.card_type, t.timestamp,
			   s.risk_score, s.is_fraud, s.fraud_reasons
		FROM scored_transactions s
		JOIN transactions t ON t.id = s.tx_id
		WHERE s.tx_id = ?
		ORDER BY s.scored_at DESC
		LIMIT 1
	`

	var st domain.ScoredTransaction
	var fraud int
	var reasons string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&st.ID, &st.UserID, &st.Amount, &st.Merchant, &st.MerchantCategory,
		&st.Location, &st.CardType, &st.Timestamp,
		&st.RiskScore, &fraud, &reasons,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st.IsFraud = fraud == 1
	if reasons != "" {
		json.Unmarshal([]byte(reasons), &st.FraudReasons)
	}
	st.Hour = st.Transaction.Hour()
	st.DayOfWeek = st.Transaction.DayOfWeek()
	st.IsWeekend = st.Transaction.IsWeekend()
	return &st, nil
}

// SaveAnalysis stores a single-transaction analysis result. The dimension
// breakdowns are kept as one JSON document; callers read them back whole.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, analysis *domain.RiskAnalysis) error {
	if analysis.ID == "" {
		return fmt.Errorf("%w: analysis ID is required", ErrInvalidInput)
	}

	body, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis %s: %w", analysis.ID, err)
	}

	query := `
		INSERT INTO analyses (id, tx_id, risk_score, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		analysis.ID, analysis.TransactionID, analysis.RiskScore,
		string(body), analysis.CreatedAt,
	)
	return err
}

// GetAnalysis retrieves an analysis by ID.
func (r *SQLRepository) GetAnalysis(ctx context.Context, analysisID string) (*domain.RiskAnalysis, error) {
	query := `SELECT body FROM analyses WHERE id = ?`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), analysisID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var analysis domain.RiskAnalysis
	if err := json.Unmarshal([]byte(body), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse analysis %s: %w", analysisID, err)
	}
	return &analysis, nil
}

// SaveCustomRule stores a custom rule configuration, upserting by ID.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, rule *domain.CustomRuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, name, description, expression, label, contribution, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			label = excluded.label,
			contribution = excluded.contribution,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.Label, rule.Contribution, enabled, now, now,
	)
	return err
}

// ListCustomRules retrieves every enabled custom rule.
func (r *SQLRepository) ListCustomRules(ctx context.Context) ([]*domain.CustomRuleConfig, error) {
	query := `
		SELECT id, name, description, expression, label, contribution, enabled, created_at, updated_at
		FROM custom_rules
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRuleConfig
	for rows.Next() {
		var cfg domain.CustomRuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Expression,
			&cfg.Label, &cfg.Contribution, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		cfg.Enabled = enabled == 1
		rules = append(rules, &cfg)
	}
	return rules, rows.Err()
}

// DeleteCustomRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteCustomRule(ctx context.Context, ruleID string) error {
	query := `
		UPDATE custom_rules
		SET enabled = 0, updated_at = ?
		WHERE id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
