// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelfraud/sentinel/internal/domain"
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

	// Configure connection pool
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

	// Run migrations
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

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction with id is required", domain.ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, card_id, amount, currency, card_type,
			merchant_id, merchant_name, merchant_category, merchant_country,
			latitude, longitude, ip_address,
			timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CardID, tx.Amount, tx.Currency, tx.CardType,
		tx.MerchantID, tx.MerchantName, tx.MerchantCategory, tx.MerchantCountry,
		tx.Latitude, tx.Longitude, tx.IPAddress,
		tx.Timestamp, tx.CreatedAt, string(metadata),
	)
	return err
}

const transactionColumns = `
	id, card_id, amount, currency, card_type,
	merchant_id, merchant_name, merchant_category, merchant_country,
	latitude, longitude, ip_address,
	timestamp, created_at, metadata
`

func scanTransaction(scan func(dest ...any) error) (*domain.Transaction, error) {
	var tx domain.Transaction
	var metadata string

	err := scan(
		&tx.ID, &tx.CardID, &tx.Amount, &tx.Currency, &tx.CardType,
		&tx.MerchantID, &tx.MerchantName, &tx.MerchantCategory, &tx.MerchantCountry,
		&tx.Latitude, &tx.Longitude, &tx.IPAddress,
		&tx.Timestamp, &tx.CreatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), txID)
	tx, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// GetTransactionsByCard retrieves a card's transactions since a cutoff,
// most recent first.
func (r *SQLRepository) GetTransactionsByCard(ctx context.Context, cardID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE card_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), cardID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// SaveVerdict stores a scoring verdict.
func (r *SQLRepository) SaveVerdict(ctx context.Context, v *domain.Verdict) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("%w: verdict with id is required", domain.ErrInvalidInput)
	}

	factors, _ := json.Marshal(v.ContributingFactors)
	predictions, _ := json.Marshal(v.ModelPredictions)
	ruleResults, _ := json.Marshal(v.RuleResults)

	isFraud := 0
	if v.IsFraud {
		isFraud = 1
	}

	query := `
		INSERT INTO verdicts (
			id, tx_id, fraud_probability, risk_score, confidence_score, is_fraud,
			composite_risk, risk_level, recommended_action, contributing_factors,
			detection_method, model_predictions, rule_results, prediction_ms, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.ID, v.TransactionID, v.FraudProbability, v.RiskScore, v.ConfidenceScore, isFraud,
		v.CompositeRisk, v.RiskLevel, v.RecommendedAction, string(factors),
		v.DetectionMethod, string(predictions), string(ruleResults), v.PredictionMs, v.Timestamp,
	)
	return err
}

const verdictColumns = `
	id, tx_id, fraud_probability, risk_score, confidence_score, is_fraud,
	composite_risk, risk_level, recommended_action, contributing_factors,
	detection_method, model_predictions, rule_results, prediction_ms, timestamp
`

func scanVerdict(scan func(dest ...any) error) (*domain.Verdict, error) {
	var v domain.Verdict
	var isFraud int
	var factors, predictions, ruleResults string

	err := scan(
		&v.ID, &v.TransactionID, &v.FraudProbability, &v.RiskScore, &v.ConfidenceScore, &isFraud,
		&v.CompositeRisk, &v.RiskLevel, &v.RecommendedAction, &factors,
		&v.DetectionMethod, &predictions, &ruleResults, &v.PredictionMs, &v.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	v.IsFraud = isFraud == 1
	json.Unmarshal([]byte(factors), &v.ContributingFactors)
	json.Unmarshal([]byte(predictions), &v.ModelPredictions)
	json.Unmarshal([]byte(ruleResults), &v.RuleResults)

	return &v, nil
}

// GetVerdict retrieves a verdict by ID.
func (r *SQLRepository) GetVerdict(ctx context.Context, verdictID string) (*domain.Verdict, error) {
	query := `SELECT ` + verdictColumns + ` FROM verdicts WHERE id = ?`

	row := r.db.QueryRowContext(ctx, r.rebind(query), verdictID)
	v, err := scanVerdict(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return v, err
}

// ListAlerts retrieves fraud-flagged verdicts since a cutoff, most
// recent first.
func (r *SQLRepository) ListAlerts(ctx context.Context, since time.Time, limit int) ([]*domain.Verdict, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + verdictColumns + `
		FROM verdicts
		WHERE is_fraud = 1 AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []*domain.Verdict
	for rows.Next() {
		v, err := scanVerdict(rows.Scan)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}

	return verdicts, rows.Err()
}

// SaveFeedback stores an analyst label.
func (r *SQLRepository) SaveFeedback(ctx context.Context, fb *domain.Feedback) error {
	if fb == nil || fb.ID == "" || fb.TransactionID == "" {
		return fmt.Errorf("%w: feedback with id and transaction id is required", domain.ErrInvalidInput)
	}

	isFraud := 0
	if fb.IsFraud {
		isFraud = 1
	}

	query := `
		INSERT INTO feedback (id, tx_id, is_fraud, analyst, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		fb.ID, fb.TransactionID, isFraud, fb.Analyst, fb.Notes, fb.CreatedAt,
	)
	return err
}

// ListFeedbackByTransaction retrieves all labels for a transaction.
func (r *SQLRepository) ListFeedbackByTransaction(ctx context.Context, txID string) ([]*domain.Feedback, error) {
	query := `
		SELECT id, tx_id, is_fraud, analyst, notes, created_at
		FROM feedback
		WHERE tx_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedback []*domain.Feedback
	for rows.Next() {
		var fb domain.Feedback
		var isFraud int

		if err := rows.Scan(&fb.ID, &fb.TransactionID, &isFraud, &fb.Analyst, &fb.Notes, &fb.CreatedAt); err != nil {
			return nil, err
		}

		fb.IsFraud = isFraud == 1
		feedback = append(feedback, &fb)
	}

	return feedback, rows.Err()
}

// SaveRuleConfig stores a custom rule configuration, upserting on
// (id, version).
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule with id is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, risk_score, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			risk_score = excluded.risk_score,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.RiskScore, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, risk_score, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.RiskScore, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListRuleConfigs retrieves all enabled rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, risk_score, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.RiskScore, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveArtifact stores a model artifact, upserting on (name, version).
func (r *SQLRepository) SaveArtifact(ctx context.Context, artifact *domain.ModelArtifact) error {
	if artifact == nil || artifact.Name == "" || artifact.Version == "" {
		return fmt.Errorf("%w: artifact with name and version is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO model_artifacts (name, version, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, version) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		artifact.Name, artifact.Version, artifact.Kind, artifact.Payload, artifact.CreatedAt,
	)
	return err
}

// GetArtifact retrieves a specific artifact version.
func (r *SQLRepository) GetArtifact(ctx context.Context, name, version string) (*domain.ModelArtifact, error) {
	query := `
		SELECT name, version, kind, payload, created_at
		FROM model_artifacts
		WHERE name = ? AND version = ?
	`

	var artifact domain.ModelArtifact
	err := r.db.QueryRowContext(ctx, r.rebind(query), name, version).Scan(
		&artifact.Name, &artifact.Version, &artifact.Kind, &artifact.Payload, &artifact.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// GetLatestArtifact retrieves the most recently saved artifact by name.
func (r *SQLRepository) GetLatestArtifact(ctx context.Context, name string) (*domain.ModelArtifact, error) {
	query := `
		SELECT name, version, kind, payload, created_at
		FROM model_artifacts
		WHERE name = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var artifact domain.ModelArtifact
	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(
		&artifact.Name, &artifact.Version, &artifact.Kind, &artifact.Payload, &artifact.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
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

	// Convert ? to $1, $2, etc.
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
