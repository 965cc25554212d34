package domain

import (
	"context"
	"time"
)

// EvaluationJob is the ephemeral queue message carrying one evaluation
// request. It is destroyed on acknowledgment and never persisted beyond
// the broker.
type EvaluationJob struct {
	TransactionID string    `json:"transactionId"`
	Attempt       int       `json:"attempt"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// JobHandler processes a delivered job. Returning an error signals the
// delivery was not handled; redelivery is the caller's responsibility.
type JobHandler func(ctx context.Context, job *EvaluationJob) error

// Queue carries evaluation jobs from the ingestion boundary to workers
// with at-least-once delivery and no cross-id ordering guarantee.
type Queue interface {
	// Enqueue submits a fresh job for the given transaction.
	Enqueue(ctx context.Context, transactionID string) error

	// Requeue resubmits a job after a transient failure, preserving and
	// incrementing its attempt count. Delivery happens after delay.
	Requeue(ctx context.Context, job *EvaluationJob, delay time.Duration) error

	// Subscribe registers a handler that receives deliveries until the
	// subscription is closed.
	Subscribe(ctx context.Context, handler JobHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Subscription represents an active queue subscription.
type Subscription interface {
	// Unsubscribe stops receiving deliveries.
	Unsubscribe() error
}

// QueueConfig holds configuration for queue initialization.
type QueueConfig struct {
	// Type is the queue type: "channel" or "nats"
	Type string

	// Channel settings (default tier)
	ChannelBufferSize int
	ChannelConsumers  int

	// NATS settings (pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Subject used for evaluation job delivery.
const SubjectEvaluationJobs = "riskforge.jobs.evaluate"
