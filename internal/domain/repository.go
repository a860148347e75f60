// Package domain defines the core interfaces and types for Sentinel.
package domain

import (
	"context"
	"time"
)

// ModelArtifact is a persisted model payload (weights, fitted
// preprocessor state, or threshold metadata), keyed by name and version.
type ModelArtifact struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Kind      string    `json:"kind"` // "anomaly", "sequence", "preprocessor"
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByCard(ctx context.Context, cardID string, since time.Time) ([]*Transaction, error)

	// Verdict / alert operations
	SaveVerdict(ctx context.Context, v *Verdict) error
	GetVerdict(ctx context.Context, verdictID string) (*Verdict, error)
	ListAlerts(ctx context.Context, since time.Time, limit int) ([]*Verdict, error)

	// Feedback operations
	SaveFeedback(ctx context.Context, fb *Feedback) error
	ListFeedbackByTransaction(ctx context.Context, txID string) ([]*Feedback, error)

	// Custom rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Model artifact operations
	SaveArtifact(ctx context.Context, artifact *ModelArtifact) error
	GetArtifact(ctx context.Context, name, version string) (*ModelArtifact, error)
	GetLatestArtifact(ctx context.Context, name string) (*ModelArtifact, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
