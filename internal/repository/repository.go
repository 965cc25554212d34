// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riskforge/riskforge/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
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

// CreateTransaction stores a new transaction in pending state.
func (r *SQLRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	status := tx.Status
	if status == "" {
		status = domain.StatusPending
	}

	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, location, device_id, ip_address,
			timestamp, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Currency,
		tx.Location, tx.DeviceID, tx.IPAddress,
		tx.Timestamp, string(status), tx.CreatedAt, tx.UpdatedAt,
	)
	return err
}

const transactionColumns = `id, user_id, amount, currency, location, device_id, ip_address,
	   timestamp, status, rule_score, ml_score, final_score, risk_level, model_version,
	   created_at, updated_at`

func scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var location, deviceID, ipAddress, riskLevel, modelVersion sql.NullString
	var status string

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency,
		&location, &deviceID, &ipAddress,
		&tx.Timestamp, &status,
		&tx.RuleScore, &tx.MLScore, &tx.FinalScore,
		&riskLevel, &modelVersion,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Location = location.String
	tx.DeviceID = deviceID.String
	tx.IPAddress = ipAddress.String
	tx.Status = domain.Status(status)
	tx.RiskLevel = domain.RiskLevel(riskLevel.String)
	tx.ModelVersion = modelVersion.String
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	return scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
}

// ClaimTransaction atomically moves pending -> processing. The conditional
// update is the single source of mutual exclusion: at most one of N
// concurrent claims sees RowsAffected == 1.
func (r *SQLRepository) ClaimTransaction(ctx context.Context, txID string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(domain.StatusProcessing), time.Now().UTC(),
		txID, string(domain.StatusPending),
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CommitOutcome atomically persists scores, risk level and terminal status,
// plus the fraud_risk alert when the risk level warrants one. The guard on
// the current processing status makes duplicate deliveries no-ops.
func (r *SQLRepository) CommitOutcome(ctx context.Context, rec *domain.OutcomeRecord) (bool, error) {
	if !rec.Status.IsTerminal() {
		return false, fmt.Errorf("%w: outcome status %q is not terminal", ErrInvalidInput, rec.Status)
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback()

	update := `
		UPDATE transactions
		SET status = ?, rule_score = ?, ml_score = ?, final_score = ?,
		    risk_level = ?, model_version = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := dbTx.ExecContext(ctx, r.rebind(update),
		string(rec.Status), rec.RuleScore, rec.MLScore, rec.FinalScore,
		string(rec.RiskLevel), rec.ModelVersion, time.Now().UTC(),
		rec.TransactionID, string(domain.StatusProcessing),
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// Already finalized by another delivery; nothing to do.
		return false, nil
	}

	if rec.RiskLevel == domain.RiskSuspicious || rec.RiskLevel == domain.RiskFraudulent {
		if err := r.insertAlert(ctx, dbTx, rec.TransactionID, domain.AlertFraudRisk, rec.AlertMessage); err != nil {
			return false, err
		}
	}

	if err := dbTx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkEvaluationFailed finalizes a transaction whose evaluation exhausted
// its retries. The transaction may still be pending when the failure
// happened before the claim, so both non-terminal states are accepted.
func (r *SQLRepository) MarkEvaluationFailed(ctx context.Context, txID string, reason string) (bool, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer dbTx.Rollback()

	update := `
		UPDATE transactions
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := dbTx.ExecContext(ctx, r.rebind(update),
		string(domain.StatusFailed), time.Now().UTC(),
		txID, string(domain.StatusPending), string(domain.StatusProcessing),
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	message := fmt.Sprintf("risk evaluation for transaction %s failed permanently: %s", txID, reason)
	if err := r.insertAlert(ctx, dbTx, txID, domain.AlertEvaluationFailure, message); err != nil {
		return false, err
	}

	if err := dbTx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLRepository) insertAlert(ctx context.Context, dbTx *sql.Tx, txID string, alertType domain.AlertType, message string) error {
	query := `
		INSERT INTO alerts (id, transaction_id, alert_type, message, resolved, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (transaction_id, alert_type) DO NOTHING
	`

	_, err := dbTx.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), txID, string(alertType), message, time.Now().UTC(),
	)
	return err
}

// CountRecentByDevice returns the number of transactions seen for a device
// since the given time.
func (r *SQLRepository) CountRecentByDevice(ctx context.Context, deviceID string, since time.Time) (int64, error) {
	if deviceID == "" {
		return 0, nil
	}

	query := `SELECT COUNT(*) FROM transactions WHERE device_id = ? AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), deviceID, since).Scan(&count)
	return count, err
}

// CountRecentByUser returns the number of transactions for a user since the
// given time.
func (r *SQLRepository) CountRecentByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, since).Scan(&count)
	return count, err
}

// DeviceSeenBefore reports whether the user transacted from this device
// before the given time.
func (r *SQLRepository) DeviceSeenBefore(ctx context.Context, userID, deviceID string, before time.Time) (bool, error) {
	if deviceID == "" {
		return false, nil
	}

	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND device_id = ? AND timestamp < ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), userID, deviceID, before).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// LocationSeenBefore reports whether the user transacted from this location
// before the given time.
func (r *SQLRepository) LocationSeenBefore(ctx context.Context, userID, location string, before time.Time) (bool, error) {
	if location == "" {
		return false, nil
	}

	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND location = ? AND timestamp < ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), userID, location, before).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListUnresolvedAlerts returns unresolved alerts, newest first.
func (r *SQLRepository) ListUnresolvedAlerts(ctx context.Context, limit, offset int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, transaction_id, alert_type, message, resolved, created_at
		FROM alerts
		WHERE resolved = 0
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListAlertsByTransaction returns all alerts referencing a transaction.
func (r *SQLRepository) ListAlertsByTransaction(ctx context.Context, txID string) ([]*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, alert_type, message, resolved, created_at
		FROM alerts
		WHERE transaction_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var alertType string
		var resolved int

		if err := rows.Scan(&a.ID, &a.TransactionID, &alertType, &a.Message, &resolved, &a.CreatedAt); err != nil {
			return nil, err
		}

		a.Type = domain.AlertType(alertType)
		a.Resolved = resolved == 1
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// ResolveAlert marks an alert resolved. Resolution never touches
// transaction state.
func (r *SQLRepository) ResolveAlert(ctx context.Context, alertID string) error {
	query := `UPDATE alerts SET resolved = 1 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), alertID)
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

// SaveRuleConfig stores or updates a rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (id, name, description, expression, weight, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, rule.Weight, enabled,
		now, now,
	)
	return err
}

// ListRuleConfigs retrieves all enabled rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, weight, enabled
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
		var description sql.NullString
		var enabled int

		if err := rows.Scan(&cfg.ID, &cfg.Name, &description, &cfg.Expression, &cfg.Weight, &enabled); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
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
