// Package outcome persists final evaluation results and maintains the
// read cache for terminal transactions.
package outcome

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riskforge/riskforge/internal/decision"
	"github.com/riskforge/riskforge/internal/domain"
)

// Writer finalizes transactions. All score fields, the status transition,
// and any alert are committed atomically by the repository; the cache is
// refreshed afterwards on a best-effort basis.
type Writer struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewWriter creates a new outcome writer.
func NewWriter(repo domain.Repository, cache domain.Cache, viewTTL time.Duration) *Writer {
	if viewTTL <= 0 {
		viewTTL = 10 * time.Minute
	}
	return &Writer{
		repo:  repo,
		cache: cache,
		ttl:   viewTTL,
	}
}

// CommitDecision writes the evaluated outcome. When the transaction was
// already finalized by a concurrent evaluation the commit is a no-op and
// the duplicate result is discarded.
func (w *Writer) CommitDecision(ctx context.Context, tx *domain.Transaction, ruleScore, mlScore float64, out decision.Outcome, modelVersion string) error {
	record := &domain.OutcomeRecord{
		TransactionID: tx.ID,
		RuleScore:     ruleScore,
		MLScore:       mlScore,
		FinalScore:    out.FinalScore,
		RiskLevel:     out.RiskLevel,
		Status:        out.Status,
		ModelVersion:  modelVersion,
	}

	if out.RiskLevel == domain.RiskSuspicious || out.RiskLevel == domain.RiskFraudulent {
		record.AlertMessage = fmt.Sprintf(
			"Transaction %s %s with final_score=%.4f. Amount: %.2f, ML: %.4f, Rules: %.4f",
			tx.ID, out.Status, out.FinalScore, tx.Amount, mlScore, ruleScore,
		)
	}

	committed, err := w.repo.CommitOutcome(ctx, record)
	if err != nil {
		return fmt.Errorf("%w: commit outcome: %v", domain.ErrInfrastructure, err)
	}
	if !committed {
		slog.Debug("outcome already committed, discarding duplicate result",
			"transaction_id", tx.ID,
		)
		return nil
	}

	slog.Info("transaction finalized",
		"transaction_id", tx.ID,
		"status", out.Status,
		"risk_level", out.RiskLevel,
		"final_score", out.FinalScore,
		"rule_score", ruleScore,
		"ml_score", mlScore,
		"model_version", modelVersion,
	)

	w.refreshView(ctx, tx.ID)
	return nil
}

// CommitFailure finalizes a transaction as evaluation_failed after retries
// are exhausted or the input proved unprocessable. Creates an
// evaluation_failure alert in the same store transaction.
func (w *Writer) CommitFailure(ctx context.Context, txID, reason string) error {
	committed, err := w.repo.MarkEvaluationFailed(ctx, txID, reason)
	if err != nil {
		return fmt.Errorf("%w: mark evaluation failed: %v", domain.ErrInfrastructure, err)
	}
	if !committed {
		slog.Debug("transaction already finalized, skipping failure mark",
			"transaction_id", txID,
		)
		return nil
	}

	slog.Warn("transaction evaluation failed",
		"transaction_id", txID,
		"reason", reason,
	)

	w.refreshView(ctx, txID)
	return nil
}

// refreshView caches the terminal view. Cache failures never fail the
// commit; reads fall through to the store.
func (w *Writer) refreshView(ctx context.Context, txID string) {
	if w.cache == nil {
		return
	}

	tx, err := w.repo.GetTransaction(ctx, txID)
	if err != nil {
		slog.Warn("failed to load transaction for view cache",
			"transaction_id", txID,
			"error", err,
		)
		return
	}
	if !tx.Status.IsTerminal() {
		return
	}

	if err := w.cache.SetView(ctx, txID, tx.ToView(), w.ttl); err != nil {
		slog.Warn("failed to cache transaction view",
			"transaction_id", txID,
			"error", err,
		)
	}
}
