// Package domain defines the core interfaces and types for RiskForge.
package domain

import (
	"time"
)

// Status is the lifecycle state of a transaction.
// A transaction starts in StatusPending and moves through StatusProcessing
// to exactly one terminal state. Terminal states are never left.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusFlagged    Status = "flagged"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "evaluation_failed"
)

// IsTerminal reports whether no further transition can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusFlagged, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// RiskLevel classifies a transaction after scoring.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "safe"
	RiskSuspicious RiskLevel = "suspicious"
	RiskFraudulent RiskLevel = "fraudulent"
)

// Transaction represents a financial transaction submitted for risk evaluation.
// Score fields are nil until the transaction leaves pending; they are written
// exclusively by the outcome writer, together with the terminal status.
type Transaction struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Transaction details
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Location  string    `json:"location,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Scoring fields (populated by the evaluation pipeline)
	Status       Status    `json:"status"`
	RuleScore    *float64  `json:"ruleScore,omitempty"`
	MLScore      *float64  `json:"mlScore,omitempty"`
	FinalScore   *float64  `json:"finalScore,omitempty"`
	RiskLevel    RiskLevel `json:"riskLevel,omitempty"`
	ModelVersion string    `json:"modelVersion,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// View is the read model of a transaction served to clients.
// Terminal views are cacheable; non-terminal views always come from the store.
type View struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	Status       Status    `json:"status"`
	RuleScore    *float64  `json:"ruleScore,omitempty"`
	MLScore      *float64  `json:"mlScore,omitempty"`
	FinalScore   *float64  `json:"finalScore,omitempty"`
	RiskLevel    RiskLevel `json:"riskLevel,omitempty"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ToView converts a transaction to its read model.
func (t *Transaction) ToView() *View {
	return &View{
		ID:           t.ID,
		UserID:       t.UserID,
		Amount:       t.Amount,
		Currency:     t.Currency,
		Status:       t.Status,
		RuleScore:    t.RuleScore,
		MLScore:      t.MLScore,
		FinalScore:   t.FinalScore,
		RiskLevel:    t.RiskLevel,
		ModelVersion: t.ModelVersion,
		Timestamp:    t.Timestamp,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// FeatureVector is the fixed-shape numeric representation of a transaction
// plus its short-term historical aggregates, keyed by feature name.
type FeatureVector map[string]float64

// Feature names produced by the extractor. A model artifact declares which
// of these it consumes and in which order.
const (
	FeatureAmount            = "amount"
	FeatureHour              = "hour"
	FeatureIsNight           = "is_night"
	FeatureIsNewDevice       = "is_new_device"
	FeatureIsUnusualLocation = "is_unusual_location"
	FeatureAmountLog         = "amount_log"
	FeatureVelocityCount     = "velocity_count"
)
