package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/riskforge/riskforge/internal/domain"
)

// NATSQueue implements the job queue using NATS.
// Used as the pro tier queue. Workers join one queue group so each job is
// delivered to a single subscriber at a time; redelivery after transient
// failures is driven by Requeue.
type NATSQueue struct {
	mu     sync.Mutex
	conn   *nats.Conn
	config domain.QueueConfig
}

// NewNATSQueue creates a new NATS-backed job queue with resilience.
func NewNATSQueue(cfg domain.QueueConfig) (*NATSQueue, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	// Configure NATS connection with resilience
	opts := []nats.Option{
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024), // 8MB buffer during reconnect
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected",
				"error", err,
				"will_reconnect", !nc.IsClosed(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected",
				"url", nc.ConnectedUrl(),
			)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("NATS error",
				"error", err,
				"subject", sub.Subject,
			)
		}),
	}

	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	// Connect with retry
	var conn *nats.Conn
	var err error
	for i := 0; i < cfg.NATSMaxReconnects; i++ {
		conn, err = nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", i+1,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		time.Sleep(time.Duration(cfg.NATSReconnectWait) * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
	)

	return &NATSQueue{
		conn:   conn,
		config: cfg,
	}, nil
}

// Enqueue publishes a fresh job for the given transaction.
func (q *NATSQueue) Enqueue(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("transactionID is required")
	}

	job := &domain.EvaluationJob{
		TransactionID: transactionID,
		Attempt:       1,
		EnqueuedAt:    time.Now().UTC(),
	}
	return q.publish(job)
}

// Requeue republishes a job with an incremented attempt count after delay.
func (q *NATSQueue) Requeue(ctx context.Context, job *domain.EvaluationJob, delay time.Duration) error {
	next := &domain.EvaluationJob{
		TransactionID: job.TransactionID,
		Attempt:       job.Attempt + 1,
		EnqueuedAt:    time.Now().UTC(),
	}

	if delay <= 0 {
		return q.publish(next)
	}

	time.AfterFunc(delay, func() {
		if err := q.publish(next); err != nil {
			slog.Error("failed to redeliver job",
				"transaction_id", next.TransactionID,
				"attempt", next.Attempt,
				"error", err,
			)
		}
	})
	return nil
}

func (q *NATSQueue) publish(job *domain.EvaluationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.conn.Publish(domain.SubjectEvaluationJobs, data)
}

// Subscribe joins the worker queue group and feeds deliveries to the handler.
func (q *NATSQueue) Subscribe(ctx context.Context, handler domain.JobHandler) (domain.Subscription, error) {
	sub, err := q.conn.QueueSubscribe(domain.SubjectEvaluationJobs, "riskforge-workers", func(m *nats.Msg) {
		var job domain.EvaluationJob
		if err := json.Unmarshal(m.Data, &job); err != nil {
			slog.Error("failed to unmarshal job",
				"subject", m.Subject,
				"error", err,
			)
			return
		}

		if err := handler(ctx, &job); err != nil {
			slog.Error("job handler error",
				"transaction_id", job.TransactionID,
				"attempt", job.Attempt,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return &natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Ping checks NATS connectivity.
func (q *NATSQueue) Ping(ctx context.Context) error {
	if q.conn == nil || !q.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

// Close drains and closes the NATS connection.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn != nil && !q.conn.IsClosed() {
		q.conn.Close()
	}
	return nil
}
