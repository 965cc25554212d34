package domain

import (
	"context"
	"time"
)

// OutcomeRecord is the unit the outcome writer commits: scores, risk level
// and terminal status for one transaction, plus the alert that must exist
// alongside them. All of it becomes visible atomically or not at all.
type OutcomeRecord struct {
	TransactionID string
	RuleScore     float64
	MLScore       float64
	FinalScore    float64
	RiskLevel     RiskLevel
	Status        Status
	ModelVersion  string

	// AlertMessage is the operator-facing message for the fraud_risk
	// alert; only used when RiskLevel is suspicious or fraudulent.
	AlertMessage string
}

// Repository defines the interface for data persistence.
// The relational store is the single source of truth and the sole arbiter
// of the pending -> processing claim transition.
type Repository interface {
	// Transaction lifecycle
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// ClaimTransaction atomically moves a transaction from pending to
	// processing. Returns false without error when the transaction is no
	// longer pending (a lost race is benign, not a failure).
	ClaimTransaction(ctx context.Context, txID string) (bool, error)

	// CommitOutcome atomically persists the terminal outcome and, when the
	// risk level warrants it, exactly one fraud_risk alert. Returns false
	// without error when the transaction is not in processing state
	// (duplicate delivery after finalization is a no-op).
	CommitOutcome(ctx context.Context, rec *OutcomeRecord) (bool, error)

	// MarkEvaluationFailed finalizes a transaction whose evaluation
	// exhausted its retries, creating exactly one evaluation_failure
	// alert. No-op (false) once the transaction is terminal.
	MarkEvaluationFailed(ctx context.Context, txID string, reason string) (bool, error)

	// Short-term historical aggregates for feature extraction
	CountRecentByDevice(ctx context.Context, deviceID string, since time.Time) (int64, error)
	CountRecentByUser(ctx context.Context, userID string, since time.Time) (int64, error)
	DeviceSeenBefore(ctx context.Context, userID, deviceID string, before time.Time) (bool, error)
	LocationSeenBefore(ctx context.Context, userID, location string, before time.Time) (bool, error)

	// Alert operations
	ListUnresolvedAlerts(ctx context.Context, limit, offset int) ([]*Alert, error)
	ListAlertsByTransaction(ctx context.Context, txID string) ([]*Alert, error)
	ResolveAlert(ctx context.Context, alertID string) error

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

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
