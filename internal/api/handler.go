package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/riskforge/riskforge/internal/domain"
	"github.com/riskforge/riskforge/internal/repository"
	"github.com/riskforge/riskforge/internal/rules"
	"github.com/riskforge/riskforge/internal/velocity"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	queue    domain.Queue
	engine   *rules.Engine
	velocity *velocity.Service
	version  string
	viewTTL  time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, queue domain.Queue, engine *rules.Engine, vel *velocity.Service, version string, viewTTL time.Duration) *Handler {
	if viewTTL <= 0 {
		viewTTL = 10 * time.Minute
	}
	return &Handler{
		repo:     repo,
		cache:    cache,
		queue:    queue,
		engine:   engine,
		velocity: vel,
		version:  version,
		viewTTL:  viewTTL,
	}
}

// SubmitTransactionRequest is the request body for POST /transactions.
type SubmitTransactionRequest struct {
	UserID    string     `json:"userId"`
	Amount    float64    `json:"amount"`
	Currency  string     `json:"currency"`
	Location  string     `json:"location,omitempty"`
	DeviceID  string     `json:"deviceId,omitempty"`
	IPAddress string     `json:"ipAddress,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// SubmitTransactionResponse is the response for POST /transactions.
type SubmitTransactionResponse struct {
	TransactionID string        `json:"transactionId"`
	Status        domain.Status `json:"status"`
	TraceID       string        `json:"traceId,omitempty"`
}

// SubmitTransaction handles POST /transactions. The transaction is stored
// as pending and an evaluation job is dispatched; the decision arrives
// asynchronously and is retrieved via GET /transactions/{id}.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if len(req.Currency) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency must be a 3-letter code",
		})
		return
	}

	now := time.Now().UTC()
	timestamp := now
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		timestamp = req.Timestamp.UTC()
	}

	tx := &domain.Transaction{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  strings.ToUpper(req.Currency),
		Location:  req.Location,
		DeviceID:  req.DeviceID,
		IPAddress: req.IPAddress,
		Timestamp: timestamp,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.repo.CreateTransaction(ctx, tx); err != nil {
		slog.Error("failed to create transaction", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to store transaction",
		})
		return
	}

	if h.velocity != nil {
		h.velocity.Observe(ctx, tx)
	}

	if err := h.queue.Enqueue(ctx, tx.ID); err != nil {
		// The transaction is stored; a stranded pending row is surfaced
		// by monitoring rather than hidden behind a rollback.
		slog.Error("failed to enqueue evaluation job",
			"transaction_id", tx.ID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to dispatch evaluation",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitTransactionResponse{
		TransactionID: tx.ID,
		Status:        tx.Status,
		TraceID:       GetTraceID(ctx),
	})
}

// GetTransaction handles GET /transactions/{id}. Terminal transactions are
// served from the cache when possible; misses fall through to the store
// and repopulate the cache.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if h.cache != nil {
		view, err := h.cache.GetView(ctx, txID)
		if err != nil {
			slog.Warn("view cache read failed", "transaction_id", txID, "error", err)
		}
		if view != nil {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, view)
			return
		}
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "transaction_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transaction",
		})
		return
	}

	view := tx.ToView()
	if tx.Status.IsTerminal() && h.cache != nil {
		if err := h.cache.SetView(ctx, txID, view, h.viewTTL); err != nil {
			slog.Warn("view cache write failed", "transaction_id", txID, "error", err)
		}
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, view)
}

// ListAlerts handles GET /alerts. Returns unresolved alerts, newest first;
// pass transaction_id to list every alert for one transaction instead.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if txID := r.URL.Query().Get("transaction_id"); txID != "" {
		alerts, err := h.repo.ListAlertsByTransaction(ctx, txID)
		if err != nil {
			slog.Error("failed to list alerts", "transaction_id", txID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to list alerts",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts": alerts,
			"count":  len(alerts),
		})
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	alerts, err := h.repo.ListUnresolvedAlerts(ctx, limit, offset)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
		"limit":  limit,
		"offset": offset,
	})
}

// ResolveAlert handles POST /alerts/{id}/resolve. Resolution is an
// operator workflow action; the transaction's outcome is untouched.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	if err := h.repo.ResolveAlert(ctx, alertID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to resolve alert", "alert_id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to resolve alert",
		})
		return
	}

	slog.Info("alert resolved", "alert_id", alertID)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     alertID,
		"status": "resolved",
	})
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule handles POST /rules. The rule is validated, persisted, and
// applied to the running engine only via POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be non-negative",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    ruleConfig,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules handles POST /rules/reload. Swaps the engine's rule set with
// the enabled rules currently persisted.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	configs, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(configs); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.queue != nil {
		if err := h.queue.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
