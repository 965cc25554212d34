package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/internal/decision"
	"github.com/riskforge/riskforge/internal/domain"
	"github.com/riskforge/riskforge/internal/features"
	"github.com/riskforge/riskforge/internal/outcome"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/repository"
	"github.com/riskforge/riskforge/internal/rules"
	"github.com/riskforge/riskforge/internal/scorer"
	"github.com/riskforge/riskforge/internal/velocity"
	"github.com/riskforge/riskforge/internal/worker"
)

const testModel = `{
	"version": "test-1",
	"features": ["amount_log", "hour", "is_night", "is_new_device", "is_unusual_location", "velocity_count"],
	"coefficients": [0.45, 0.02, 0.8, 1.2, 1.0, 0.15],
	"intercept": -6.0
}`

type testServer struct {
	srv  *Server
	repo domain.Repository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	modelPath := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(modelPath, []byte(testModel), 0o644); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}
	sc, err := scorer.Load(modelPath)
	if err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	c := cache.NewLRUCache(100)
	q := queue.NewChannelQueue(100, 2)
	t.Cleanup(func() { q.Close() })

	vel := velocity.NewService(repo, c, time.Hour)
	engine, err := rules.NewEngine(10)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	for _, rule := range rules.DefaultRules() {
		if err := repo.SaveRuleConfig(context.Background(), rule); err != nil {
			t.Fatalf("failed to seed rule: %v", err)
		}
	}
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	combiner, err := decision.NewCombiner(domain.ScoringConfig{
		MLWeight:      0.7,
		RuleWeight:    0.3,
		LowThreshold:  0.3,
		HighThreshold: 0.7,
	})
	if err != nil {
		t.Fatalf("failed to create combiner: %v", err)
	}

	extractor := features.NewExtractor(repo, vel)
	writer := outcome.NewWriter(repo, c, time.Minute)

	w := worker.NewWorker(q, repo, extractor, engine, sc, combiner, writer, worker.Config{
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	srv := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, repo, c, q, engine, vel, "test", time.Minute)
	return &testServer{srv: srv, repo: repo}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) submitAndWait(t *testing.T, body SubmitTransactionRequest) TransactionViewOut {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/transactions", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var submitted SubmitTransactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if submitted.Status != domain.StatusPending {
		t.Errorf("expected pending on submit, got %s", submitted.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := ts.do(t, http.MethodGet, "/transactions/"+submitted.TransactionID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var view TransactionViewOut
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			t.Fatalf("failed to parse view: %v", err)
		}
		switch view.Status {
		case domain.StatusApproved, domain.StatusFlagged, domain.StatusRejected, domain.StatusFailed:
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("transaction never reached a terminal status")
	return TransactionViewOut{}
}

// TransactionViewOut mirrors the JSON shape of domain.View for assertions.
type TransactionViewOut struct {
	ID         string           `json:"id"`
	Status     domain.Status    `json:"status"`
	RiskLevel  domain.RiskLevel `json:"riskLevel"`
	FinalScore *float64         `json:"finalScore"`
}

func TestSubmitValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body SubmitTransactionRequest
	}{
		{"MissingUser", SubmitTransactionRequest{Amount: 10, Currency: "USD"}},
		{"ZeroAmount", SubmitTransactionRequest{UserID: "u", Amount: 0, Currency: "USD"}},
		{"NegativeAmount", SubmitTransactionRequest{UserID: "u", Amount: -5, Currency: "USD"}},
		{"BadCurrency", SubmitTransactionRequest{UserID: "u", Amount: 10, Currency: "DOLLARS"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/transactions", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}

	t.Run("MalformedJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		ts.srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestSubmitAndRetrieve(t *testing.T) {
	ts := newTestServer(t)

	view := ts.submitAndWait(t, SubmitTransactionRequest{
		UserID:   "user-api",
		Amount:   150,
		Currency: "usd",
		Location: "Berlin",
		DeviceID: "device-api",
	})

	// First transaction ever for this user: new device and location push
	// it over the low threshold.
	if view.Status != domain.StatusFlagged && view.Status != domain.StatusApproved {
		t.Errorf("unexpected status %s", view.Status)
	}
	if view.FinalScore == nil {
		t.Error("terminal view must carry a final score")
	}
}

func TestRetrieveUsesCache(t *testing.T) {
	ts := newTestServer(t)

	view := ts.submitAndWait(t, SubmitTransactionRequest{
		UserID:   "user-cache",
		Amount:   150,
		Currency: "USD",
		DeviceID: "device-cache",
	})

	rec := ts.do(t, http.MethodGet, "/transactions/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("expected cache hit for terminal transaction, got %q", got)
	}
}

func TestRetrieveMissing(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/transactions/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// A clearly fraudulent transaction produces an alert.
	view := ts.submitAndWait(t, SubmitTransactionRequest{
		UserID:   "user-alerts",
		Amount:   90000,
		Currency: "USD",
		Location: "Reykjavik",
		DeviceID: "device-never-seen",
	})
	if view.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", view.Status)
	}

	rec := ts.do(t, http.MethodGet, "/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listing struct {
		Alerts []*domain.Alert `json:"alerts"`
		Count  int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to parse alerts: %v", err)
	}
	if listing.Count != 1 {
		t.Fatalf("expected 1 alert, got %d", listing.Count)
	}
	alert := listing.Alerts[0]
	if alert.Type != domain.AlertFraudRisk || alert.TransactionID != view.ID {
		t.Errorf("unexpected alert %+v", alert)
	}

	t.Run("FilterByTransaction", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/alerts?transaction_id="+view.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/alerts/%s/resolve", alert.ID), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = ts.do(t, http.MethodGet, "/alerts", nil)
		if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
			t.Fatalf("failed to parse alerts: %v", err)
		}
		if listing.Count != 0 {
			t.Errorf("expected no unresolved alerts after resolve, got %d", listing.Count)
		}

		// Resolution leaves the transaction outcome alone.
		getRec := ts.do(t, http.MethodGet, "/transactions/"+view.ID, nil)
		var after TransactionViewOut
		if err := json.Unmarshal(getRec.Body.Bytes(), &after); err != nil {
			t.Fatalf("failed to parse view: %v", err)
		}
		if after.Status != domain.StatusRejected {
			t.Errorf("resolving the alert changed the transaction to %s", after.Status)
		}
	})

	t.Run("ResolveMissing", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/alerts/no-such-alert/resolve", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("List", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var listing struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
			t.Fatalf("failed to parse rules: %v", err)
		}
		if listing.Count != len(rules.DefaultRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.DefaultRules()), listing.Count)
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "bad",
			Name:       "Bad",
			Expression: "not valid (",
			Weight:     10,
			Enabled:    true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("CreateAndReload", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/rules", CreateRuleRequest{
			ID:         "round-amount",
			Name:       "Round amount",
			Expression: "amount == 10000.0",
			Weight:     15,
			Enabled:    true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}

		rec = ts.do(t, http.MethodPost, "/rules/reload", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var reloaded struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &reloaded); err != nil {
			t.Fatalf("failed to parse reload response: %v", err)
		}
		if reloaded.Count != len(rules.DefaultRules())+1 {
			t.Errorf("expected %d rules after reload, got %d", len(rules.DefaultRules())+1, reloaded.Count)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to parse health: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}

	rec = ts.do(t, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /ready, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/transactions/some-id", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected request ID header on responses")
	}
}
