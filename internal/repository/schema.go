package repository

// Schema definitions for the Sentinel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    card_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    card_type TEXT,
    merchant_id TEXT,
    merchant_name TEXT,
    merchant_category TEXT,
    merchant_country TEXT,
    latitude REAL,
    longitude REAL,
    ip_address TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_card ON transactions(card_id);
CREATE INDEX IF NOT EXISTS idx_transactions_card_timestamp ON transactions(card_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id);
`

const schemaVerdicts = `
CREATE TABLE IF NOT EXISTS verdicts (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    fraud_probability REAL NOT NULL,
    risk_score REAL NOT NULL,
    confidence_score REAL NOT NULL,
    is_fraud INTEGER NOT NULL,
    composite_risk REAL NOT NULL,
    risk_level TEXT NOT NULL,
    recommended_action TEXT NOT NULL,
    contributing_factors TEXT,
    detection_method TEXT NOT NULL,
    model_predictions TEXT,
    rule_results TEXT,
    prediction_ms INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verdicts_tx ON verdicts(tx_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_fraud ON verdicts(is_fraud, timestamp);
CREATE INDEX IF NOT EXISTS idx_verdicts_timestamp ON verdicts(timestamp);
`

const schemaFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    is_fraud INTEGER NOT NULL,
    analyst TEXT,
    notes TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_tx ON feedback(tx_id);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    risk_score REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, version)
);

CREATE INDEX IF NOT EXISTS idx_model_artifacts_name ON model_artifacts(name, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaVerdicts,
		schemaFeedback,
		schemaRuleConfigs,
		schemaModelArtifacts,
	}
}
