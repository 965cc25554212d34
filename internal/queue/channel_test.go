package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskforge/riskforge/internal/domain"
)

func TestChannelQueueDelivery(t *testing.T) {
	q := NewChannelQueue(10, 2)
	defer q.Close()

	ctx := context.Background()

	var mu sync.Mutex
	received := make(map[string]int)
	done := make(chan struct{})

	sub, err := q.Subscribe(ctx, func(ctx context.Context, job *domain.EvaluationJob) error {
		mu.Lock()
		received[job.TransactionID] = job.Attempt
		count := len(received)
		mu.Unlock()
		if count == 3 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		if attempt, ok := received[id]; !ok {
			t.Errorf("job %s never delivered", id)
		} else if attempt != 1 {
			t.Errorf("fresh job %s should have attempt 1, got %d", id, attempt)
		}
	}
}

func TestChannelQueueEnqueueValidation(t *testing.T) {
	q := NewChannelQueue(10, 1)
	defer q.Close()

	if err := q.Enqueue(context.Background(), ""); err == nil {
		t.Error("expected error for empty transaction ID")
	}
}

func TestChannelQueueRequeueIncrementsAttempt(t *testing.T) {
	q := NewChannelQueue(10, 1)
	defer q.Close()

	ctx := context.Background()
	attempts := make(chan int, 4)

	sub, err := q.Subscribe(ctx, func(ctx context.Context, job *domain.EvaluationJob) error {
		attempts <- job.Attempt
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	job := &domain.EvaluationJob{TransactionID: "tx-retry", Attempt: 1, EnqueuedAt: time.Now().UTC()}
	if err := q.Requeue(ctx, job, 0); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	select {
	case attempt := <-attempts:
		if attempt != 2 {
			t.Errorf("expected attempt 2 after requeue, got %d", attempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redelivery")
	}
}

func TestChannelQueueRequeueDelay(t *testing.T) {
	q := NewChannelQueue(10, 1)
	defer q.Close()

	ctx := context.Background()
	delivered := make(chan time.Time, 1)

	sub, err := q.Subscribe(ctx, func(ctx context.Context, job *domain.EvaluationJob) error {
		delivered <- time.Now()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	job := &domain.EvaluationJob{TransactionID: "tx-delayed", Attempt: 1}
	start := time.Now()
	if err := q.Requeue(ctx, job, 100*time.Millisecond); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	select {
	case at := <-delivered:
		if at.Sub(start) < 80*time.Millisecond {
			t.Errorf("delivery arrived too early: %s", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delayed delivery")
	}
}

func TestChannelQueueConcurrentConsumers(t *testing.T) {
	q := NewChannelQueue(100, 4)
	defer q.Close()

	ctx := context.Background()
	var count int64
	done := make(chan struct{})

	sub, err := q.Subscribe(ctx, func(ctx context.Context, job *domain.EvaluationJob) error {
		if atomic.AddInt64(&count, 1) == 50 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	for i := 0; i < 50; i++ {
		if err := q.Enqueue(ctx, "tx-"+string(rune('a'+i%26))+string(rune('0'+i/26))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out: delivered %d of 50", atomic.LoadInt64(&count))
	}
}

func TestChannelQueueClose(t *testing.T) {
	q := NewChannelQueue(10, 1)

	ctx := context.Background()
	if err := q.Ping(ctx); err != nil {
		t.Errorf("Ping failed on open queue: %v", err)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := q.Enqueue(ctx, "tx-late"); err == nil {
		t.Error("expected error enqueueing on closed queue")
	}
	// A delayed requeue must fail up front, not schedule a delivery that
	// would be silently dropped.
	job := &domain.EvaluationJob{TransactionID: "tx-late", Attempt: 1}
	if err := q.Requeue(ctx, job, 50*time.Millisecond); err == nil {
		t.Error("expected error requeueing on closed queue")
	}
	if err := q.Ping(ctx); err == nil {
		t.Error("expected ping error on closed queue")
	}

	// Closing twice is fine.
	if err := q.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFactoryChannel(t *testing.T) {
	q, err := New(domain.QueueConfig{Type: "channel", ChannelBufferSize: 10, ChannelConsumers: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()

	if _, ok := q.(*ChannelQueue); !ok {
		t.Errorf("expected ChannelQueue, got %T", q)
	}

	if _, err := New(domain.QueueConfig{Type: "rabbitmq"}); err == nil {
		t.Error("expected error for unsupported queue type")
	}
}
