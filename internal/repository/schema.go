package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    merchant TEXT NOT NULL,
    merchant_category TEXT,
    location TEXT,
    card_type TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaScoredTransactions = `
CREATE TABLE IF NOT EXISTS scored_transactions (
    tx_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    fraud_reasons TEXT,
    scored_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tx_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_scored_run ON scored_transactions(run_id);
CREATE INDEX IF NOT EXISTS idx_scored_fraud ON scored_transactions(is_fraud);
`

const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tx ON analyses(tx_id);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    label TEXT NOT NULL,
    contribution REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaScoredTransactions,
		schemaAnalyses,
		schemaCustomRules,
	}
}
