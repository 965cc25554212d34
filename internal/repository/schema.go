package repository

// Schema definitions for the RiskForge database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    location TEXT,
    device_id TEXT,
    ip_address TEXT,
    timestamp TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    rule_score REAL,
    ml_score REAL,
    final_score REAL,
    risk_level TEXT,
    model_version TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_device ON transactions(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

// The unique index on (transaction_id, alert_type) is what makes alert
// creation exactly-once under redelivery: the insert uses ON CONFLICT DO
// NOTHING inside the same transaction as the status update.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL REFERENCES transactions(id),
    alert_type TEXT NOT NULL,
    message TEXT NOT NULL,
    resolved INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (transaction_id, alert_type)
);

CREATE INDEX IF NOT EXISTS idx_alerts_resolved ON alerts(resolved, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAlerts,
		schemaRuleConfigs,
	}
}
