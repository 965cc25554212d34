// Package worker runs the asynchronous risk evaluation pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/riskforge/riskforge/internal/decision"
	"github.com/riskforge/riskforge/internal/domain"
	"github.com/riskforge/riskforge/internal/features"
	"github.com/riskforge/riskforge/internal/outcome"
	"github.com/riskforge/riskforge/internal/repository"
	"github.com/riskforge/riskforge/internal/rules"
	"github.com/riskforge/riskforge/internal/scorer"
)

// Worker consumes evaluation jobs and drives each transaction from
// pending to a terminal status. Delivery is at-least-once; the claim and
// guarded commit in the repository make the effects exactly-once.
type Worker struct {
	queue     domain.Queue
	repo      domain.Repository
	extractor *features.Extractor
	engine    *rules.Engine
	scorer    *scorer.Scorer
	combiner  *decision.Combiner
	writer    *outcome.Writer

	maxAttempts int
	backoff     time.Duration
	tracer      trace.Tracer

	mu  sync.Mutex
	sub domain.Subscription
}

// Config holds the retry policy for the worker.
type Config struct {
	// MaxAttempts bounds deliveries per job before the transaction is
	// finalized as evaluation_failed.
	MaxAttempts int

	// Backoff is the base redelivery delay, doubled per attempt.
	Backoff time.Duration
}

// NewWorker creates a new evaluation worker.
func NewWorker(queue domain.Queue, repo domain.Repository, extractor *features.Extractor, engine *rules.Engine, sc *scorer.Scorer, combiner *decision.Combiner, writer *outcome.Writer, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &Worker{
		queue:       queue,
		repo:        repo,
		extractor:   extractor,
		engine:      engine,
		scorer:      sc,
		combiner:    combiner,
		writer:      writer,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		tracer:      otel.Tracer("riskforge/worker"),
	}
}

// Start subscribes the worker to the job queue.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sub != nil {
		return fmt.Errorf("worker already started")
	}

	sub, err := w.queue.Subscribe(ctx, w.handleJob)
	if err != nil {
		return fmt.Errorf("failed to subscribe worker: %w", err)
	}
	w.sub = sub

	slog.Info("evaluation worker started",
		"max_attempts", w.maxAttempts,
		"retry_backoff", w.backoff,
	)
	return nil
}

// Stop unsubscribes from the queue. In-flight jobs run to completion.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sub == nil {
		return nil
	}
	err := w.sub.Unsubscribe()
	w.sub = nil
	return err
}

// handleJob processes a single delivery.
func (w *Worker) handleJob(ctx context.Context, job *domain.EvaluationJob) error {
	ctx, span := w.tracer.Start(ctx, "worker.evaluate")
	defer span.End()

	start := time.Now()
	log := slog.With(
		"transaction_id", job.TransactionID,
		"attempt", job.Attempt,
	)

	tx, err := w.repo.GetTransaction(ctx, job.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error("job references unknown transaction, discarding")
			return nil
		}
		return w.retryOrFail(ctx, job, log, fmt.Errorf("%w: load transaction: %v", domain.ErrInfrastructure, err))
	}

	// Duplicate delivery of an already finalized transaction is a no-op.
	if tx.Status.IsTerminal() {
		log.Debug("transaction already terminal, ignoring delivery", "status", tx.Status)
		return nil
	}

	if tx.Status == domain.StatusProcessing {
		if job.Attempt <= 1 {
			// Another delivery holds the claim; that one carries the
			// transaction forward.
			log.Debug("transaction claimed by concurrent delivery, ignoring")
			return nil
		}
		// Redelivery of our own failed attempt: resume without reclaiming.
	} else {
		claimed, err := w.repo.ClaimTransaction(ctx, tx.ID)
		if err != nil {
			return w.retryOrFail(ctx, job, log, fmt.Errorf("%w: claim transaction: %v", domain.ErrInfrastructure, err))
		}
		if !claimed {
			log.Debug("lost claim race, ignoring delivery")
			return nil
		}
	}

	if err := w.evaluate(ctx, tx); err != nil {
		if !domain.Retryable(err) {
			// Unprocessable input: finalize immediately instead of
			// leaving the transaction stranded in processing.
			log.Error("transaction unprocessable", "error", err)
			return w.writer.CommitFailure(ctx, tx.ID, err.Error())
		}
		return w.retryOrFail(ctx, job, log, err)
	}

	log.Info("evaluation completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// evaluate runs feature extraction, then the rule engine and the scorer
// concurrently, combines their scores, and commits the outcome.
func (w *Worker) evaluate(ctx context.Context, tx *domain.Transaction) error {
	fv, err := w.extractor.Extract(ctx, tx)
	if err != nil {
		return err
	}

	var (
		wg        sync.WaitGroup
		ruleEval  *rules.Evaluation
		ruleErr   error
		mlScore   float64
		scoreErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ruleEval, ruleErr = w.engine.Evaluate(ctx, tx, fv)
	}()
	go func() {
		defer wg.Done()
		mlScore, scoreErr = w.scorer.Score(fv)
	}()
	wg.Wait()

	if ruleErr != nil {
		return ruleErr
	}
	if scoreErr != nil {
		return scoreErr
	}

	out := w.combiner.Combine(mlScore, ruleEval.Score)
	return w.writer.CommitDecision(ctx, tx, ruleEval.Score, mlScore, out, w.scorer.Version())
}

// retryOrFail redelivers the job with exponential backoff, or finalizes
// the transaction as evaluation_failed once attempts are exhausted.
func (w *Worker) retryOrFail(ctx context.Context, job *domain.EvaluationJob, log *slog.Logger, cause error) error {
	if job.Attempt >= w.maxAttempts {
		log.Error("evaluation attempts exhausted, finalizing as failed",
			"max_attempts", w.maxAttempts,
			"error", cause,
		)
		return w.writer.CommitFailure(ctx, job.TransactionID, cause.Error())
	}

	delay := w.backoff * (1 << (job.Attempt - 1))
	log.Warn("evaluation failed, scheduling retry",
		"error", cause,
		"retry_in", delay,
	)

	if err := w.queue.Requeue(ctx, job, delay); err != nil {
		// Without a redelivery the transaction would sit in processing
		// forever; finalize it instead.
		log.Error("failed to requeue job, finalizing as failed", "error", err)
		return w.writer.CommitFailure(ctx, job.TransactionID,
			fmt.Sprintf("redelivery unavailable: %v", cause))
	}
	return nil
}
