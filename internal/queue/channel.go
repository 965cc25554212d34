package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riskforge/riskforge/internal/domain"
)

// ChannelQueue implements the job queue using Go channels.
// Used as the default tier queue. Delivery is at-least-once within the
// process: a delivered job that is neither completed nor requeued by the
// handler is lost only if the process dies, which matches what the broker
// tier provides without persistence.
type ChannelQueue struct {
	mu        sync.Mutex
	jobs      chan *domain.EvaluationJob
	consumers int
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewChannelQueue creates a new channel-based job queue.
func NewChannelQueue(bufferSize, consumers int) *ChannelQueue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if consumers <= 0 {
		consumers = 4
	}
	return &ChannelQueue{
		jobs:      make(chan *domain.EvaluationJob, bufferSize),
		consumers: consumers,
		done:      make(chan struct{}),
	}
}

// Enqueue submits a fresh job for the given transaction.
func (q *ChannelQueue) Enqueue(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("transactionID is required")
	}

	job := &domain.EvaluationJob{
		TransactionID: transactionID,
		Attempt:       1,
		EnqueuedAt:    time.Now().UTC(),
	}
	return q.deliver(ctx, job)
}

// Requeue resubmits a job with an incremented attempt count after delay.
// Fails immediately when the queue is closed: a delayed redelivery would
// be silently lost.
func (q *ChannelQueue) Requeue(ctx context.Context, job *domain.EvaluationJob, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	next := &domain.EvaluationJob{
		TransactionID: job.TransactionID,
		Attempt:       job.Attempt + 1,
		EnqueuedAt:    time.Now().UTC(),
	}

	if delay <= 0 {
		return q.deliver(ctx, next)
	}

	time.AfterFunc(delay, func() {
		if err := q.deliver(context.Background(), next); err != nil {
			slog.Error("failed to redeliver job",
				"transaction_id", next.TransactionID,
				"attempt", next.Attempt,
				"error", err,
			)
		}
	})
	return nil
}

func (q *ChannelQueue) deliver(ctx context.Context, job *domain.EvaluationJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return fmt.Errorf("queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts consumer goroutines feeding the handler.
func (q *ChannelQueue) Subscribe(ctx context.Context, handler domain.JobHandler) (domain.Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("queue is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	for i := 0; i < q.consumers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-subCtx.Done():
					return
				case <-q.done:
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}
					if err := handler(subCtx, job); err != nil {
						// Redelivery is the handler's responsibility;
						// an error here means the job was unprocessable.
						slog.Error("job handler error",
							"transaction_id", job.TransactionID,
							"attempt", job.Attempt,
							"error", err,
						)
					}
				}
			}
		}()
	}

	return &channelSubscription{cancel: cancel}, nil
}

type channelSubscription struct {
	cancel context.CancelFunc
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Ping checks queue health.
func (q *ChannelQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	return nil
}

// Close stops delivery and waits for consumers to drain.
func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Depth returns the number of jobs waiting in the buffer.
func (q *ChannelQueue) Depth() int {
	return len(q.jobs)
}
