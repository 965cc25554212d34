// Package queue provides evaluation job queue implementations.
package queue

import (
	"fmt"

	"github.com/riskforge/riskforge/internal/domain"
)

// New creates a new job queue based on configuration.
// For the default tier: returns ChannelQueue.
// For the pro tier: returns NATSQueue.
func New(cfg domain.QueueConfig) (domain.Queue, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelQueue(cfg.ChannelBufferSize, cfg.ChannelConsumers), nil

	case "nats":
		return NewNATSQueue(cfg)

	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}
}
