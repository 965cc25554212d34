// Package velocity provides short-term transaction velocity aggregates.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riskforge/riskforge/internal/domain"
)

// Service counts recent transactions per device and per user. Ingestion
// bumps rolling window counters in the cache; reads consult the counter
// first and fall back to the store, which stays authoritative, whenever
// no live counter exists for the key.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		window: window,
	}
}

// Window returns the rolling window used for counts.
func (s *Service) Window() time.Duration {
	return s.window
}

// Observe bumps the rolling window counters for a newly ingested
// transaction. Counter failures are logged and ignored; reads fall back
// to the store when no counter is live.
func (s *Service) Observe(ctx context.Context, tx *domain.Transaction) {
	if s.cache == nil || tx == nil {
		return
	}

	if tx.DeviceID != "" {
		if _, err := s.cache.IncrementCounter(ctx, deviceKey(tx.DeviceID), s.window); err != nil {
			slog.Warn("velocity counter increment failed",
				"device_id", tx.DeviceID,
				"error", err,
			)
		}
	}
	if tx.UserID != "" {
		if _, err := s.cache.IncrementCounter(ctx, userKey(tx.UserID), s.window); err != nil {
			slog.Warn("velocity counter increment failed",
				"user_id", tx.UserID,
				"error", err,
			)
		}
	}
}

// CountByDevice returns the number of transactions seen for a device
// within the rolling window ending at ref.
func (s *Service) CountByDevice(ctx context.Context, deviceID string, ref time.Time) (int64, error) {
	if deviceID == "" {
		return 0, nil
	}
	if count, ok := s.counter(ctx, deviceKey(deviceID)); ok {
		return count, nil
	}

	count, err := s.repo.CountRecentByDevice(ctx, deviceID, ref.Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("failed to count device transactions: %w", err)
	}
	return count, nil
}

// CountByUser returns the number of transactions seen for a user within
// the rolling window ending at ref.
func (s *Service) CountByUser(ctx context.Context, userID string, ref time.Time) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("userID is required")
	}
	if count, ok := s.counter(ctx, userKey(userID)); ok {
		return count, nil
	}

	count, err := s.repo.CountRecentByUser(ctx, userID, ref.Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("failed to count user transactions: %w", err)
	}
	return count, nil
}

// counter consults the ingestion-time counter. A miss or a cache error
// falls through to the store.
func (s *Service) counter(ctx context.Context, key string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	count, ok, err := s.cache.GetCounter(ctx, key)
	if err != nil {
		slog.Warn("velocity counter read failed", "key", key, "error", err)
		return 0, false
	}
	return count, ok
}

func deviceKey(deviceID string) string {
	return "velocity:device:" + deviceID
}

func userKey(userID string) string {
	return "velocity:user:" + userID
}
