package domain

import "time"

// AlertType distinguishes business alerts from operational alerts.
type AlertType string

const (
	// AlertFraudRisk is raised when a transaction is classified
	// suspicious or fraudulent.
	AlertFraudRisk AlertType = "fraud_risk"

	// AlertEvaluationFailure is raised when evaluation permanently
	// failed after exhausting retries.
	AlertEvaluationFailure AlertType = "evaluation_failure"
)

// Alert is an operator-facing alert tied to a transaction.
// At most one alert exists per (transaction, type) pair; resolution flips
// Resolved and never touches transaction state.
type Alert struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Type          AlertType `json:"type"`
	Message       string    `json:"message"`
	Resolved      bool      `json:"resolved"`
	CreatedAt     time.Time `json:"createdAt"`
}
