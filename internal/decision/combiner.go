// Package decision combines rule and model scores into a final risk decision.
package decision

import (
	"fmt"

	"github.com/riskforge/riskforge/internal/domain"
)

// Outcome is the combined decision for a transaction.
type Outcome struct {
	FinalScore float64
	RiskLevel  domain.RiskLevel
	Status     domain.Status
}

// Combiner computes the weighted hybrid score and maps it to a risk level
// and terminal status. Threshold bounds are closed at the lower end:
// final == LowThreshold is suspicious, final == HighThreshold is fraudulent.
type Combiner struct {
	mlWeight   float64
	ruleWeight float64
	low        float64
	high       float64
}

// NewCombiner validates the scoring configuration and creates a combiner.
func NewCombiner(cfg domain.ScoringConfig) (*Combiner, error) {
	if cfg.MLWeight < 0 || cfg.RuleWeight < 0 {
		return nil, fmt.Errorf("blend weights must be non-negative")
	}
	if cfg.MLWeight+cfg.RuleWeight <= 0 {
		return nil, fmt.Errorf("at least one blend weight must be positive")
	}
	if cfg.LowThreshold < 0 || cfg.HighThreshold > 1 {
		return nil, fmt.Errorf("thresholds must lie in [0, 1]")
	}
	if cfg.LowThreshold >= cfg.HighThreshold {
		return nil, fmt.Errorf("low threshold %.2f must be below high threshold %.2f",
			cfg.LowThreshold, cfg.HighThreshold)
	}

	return &Combiner{
		mlWeight:   cfg.MLWeight,
		ruleWeight: cfg.RuleWeight,
		low:        cfg.LowThreshold,
		high:       cfg.HighThreshold,
	}, nil
}

// Combine blends the two scores and classifies the result.
func (c *Combiner) Combine(mlScore, ruleScore float64) Outcome {
	final := c.mlWeight*clamp01(mlScore) + c.ruleWeight*clamp01(ruleScore)
	final = clamp01(final)

	out := Outcome{FinalScore: final}
	switch {
	case final < c.low:
		out.RiskLevel = domain.RiskSafe
		out.Status = domain.StatusApproved
	case final < c.high:
		out.RiskLevel = domain.RiskSuspicious
		out.Status = domain.StatusFlagged
	default:
		out.RiskLevel = domain.RiskFraudulent
		out.Status = domain.StatusRejected
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
