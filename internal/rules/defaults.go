package rules

import "github.com/riskforge/riskforge/internal/domain"

// DefaultRules returns the built-in fraud heuristics. They are seeded into
// the store on first start and can be replaced at runtime through the rule
// management API.
func DefaultRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "high-amount",
			Name:        "High amount",
			Description: "Transaction amount exceeds the high-value threshold",
			Expression:  "amount > 50000.0",
			Weight:      30,
			Enabled:     true,
		},
		{
			ID:          "night-hours",
			Name:        "Night hours",
			Description: "Transaction initiated between 22:00 and 06:00 UTC",
			Expression:  "is_night",
			Weight:      10,
			Enabled:     true,
		},
		{
			ID:          "new-device",
			Name:        "New device",
			Description: "First transaction from this device for the user",
			Expression:  "is_new_device",
			Weight:      20,
			Enabled:     true,
		},
		{
			ID:          "unusual-location",
			Name:        "Unusual location",
			Description: "First transaction from this location for the user",
			Expression:  "is_unusual_location",
			Weight:      20,
			Enabled:     true,
		},
		{
			ID:          "high-velocity",
			Name:        "High velocity",
			Description: "More than 10 transactions in the rolling window",
			Expression:  "velocity_count > 10",
			Weight:      20,
			Enabled:     true,
		},
	}
}
