// Package features builds the numeric feature vector consumed by the
// rule engine and the statistical scorer.
package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/riskforge/riskforge/internal/domain"
	"github.com/riskforge/riskforge/internal/velocity"
)

// Extractor derives a feature vector from a transaction and its history.
// Extraction is deterministic for a fixed transaction and store state.
type Extractor struct {
	repo     domain.Repository
	velocity *velocity.Service
}

// NewExtractor creates a new feature extractor.
func NewExtractor(repo domain.Repository, vel *velocity.Service) *Extractor {
	return &Extractor{
		repo:     repo,
		velocity: vel,
	}
}

// Extract builds the feature vector for a transaction.
// Malformed transactions yield a validation error; history lookups that
// fail yield an infrastructure error.
func (e *Extractor) Extract(ctx context.Context, tx *domain.Transaction) (domain.FeatureVector, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrValidation)
	}
	if tx.Amount < 0 {
		return nil, fmt.Errorf("%w: negative amount %.2f", domain.ErrValidation, tx.Amount)
	}
	if tx.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", domain.ErrValidation)
	}
	if tx.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", domain.ErrValidation)
	}

	hour := tx.Timestamp.UTC().Hour()

	fv := domain.FeatureVector{
		domain.FeatureAmount:    tx.Amount,
		domain.FeatureHour:      float64(hour),
		domain.FeatureIsNight:   boolFeature(isNight(hour)),
		domain.FeatureAmountLog: math.Log1p(tx.Amount),
	}

	newDevice, err := e.isNewDevice(ctx, tx)
	if err != nil {
		return nil, err
	}
	fv[domain.FeatureIsNewDevice] = boolFeature(newDevice)

	unusualLocation, err := e.isUnusualLocation(ctx, tx)
	if err != nil {
		return nil, err
	}
	fv[domain.FeatureIsUnusualLocation] = boolFeature(unusualLocation)

	count, err := e.velocityCount(ctx, tx)
	if err != nil {
		return nil, err
	}
	fv[domain.FeatureVelocityCount] = float64(count)

	return fv, nil
}

// isNight reports whether the hour falls in the 22:00-06:00 window.
func isNight(hour int) bool {
	return hour >= 22 || hour < 6
}

// isNewDevice reports whether the user has ever transacted from this
// device before the current transaction.
func (e *Extractor) isNewDevice(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.DeviceID == "" {
		return false, nil
	}
	seen, err := e.repo.DeviceSeenBefore(ctx, tx.UserID, tx.DeviceID, tx.Timestamp)
	if err != nil {
		return false, fmt.Errorf("%w: device history lookup: %v", domain.ErrInfrastructure, err)
	}
	return !seen, nil
}

// isUnusualLocation reports whether the user has ever transacted from
// this location before the current transaction.
func (e *Extractor) isUnusualLocation(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.Location == "" {
		return false, nil
	}
	seen, err := e.repo.LocationSeenBefore(ctx, tx.UserID, tx.Location, tx.Timestamp)
	if err != nil {
		return false, fmt.Errorf("%w: location history lookup: %v", domain.ErrInfrastructure, err)
	}
	return !seen, nil
}

// velocityCount returns the rolling window transaction count keyed by
// device when one is present, falling back to the user otherwise.
func (e *Extractor) velocityCount(ctx context.Context, tx *domain.Transaction) (int64, error) {
	var (
		count int64
		err   error
		ref   = tx.Timestamp
	)
	if ref.IsZero() {
		ref = time.Now().UTC()
	}

	if tx.DeviceID != "" {
		count, err = e.velocity.CountByDevice(ctx, tx.DeviceID, ref)
	} else {
		count, err = e.velocity.CountByUser(ctx, tx.UserID, ref)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: velocity count: %v", domain.ErrInfrastructure, err)
	}
	return count, nil
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
