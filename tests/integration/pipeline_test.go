//go:build integration
// +build integration

// Package integration provides end-to-end tests for the RiskForge
// evaluation pipeline.
//
// These tests drive the COMPLETE flow through the HTTP surface:
//
//	POST /transactions → queue → worker → rules + model → outcome → GET /transactions/{id}
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

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

	"github.com/riskforge/riskforge/internal/api"
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

const modelArtifact = `{
	"version": "it-1",
	"features": ["amount_log", "hour", "is_night", "is_new_device", "is_unusual_location", "velocity_count"],
	"coefficients": [0.45, 0.02, 0.8, 1.2, 1.0, 0.15],
	"intercept": -6.0
}`

type stack struct {
	base string
	repo domain.Repository
}

func newStack(t *testing.T) *stack {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "integration.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	modelPath := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(modelPath, []byte(modelArtifact), 0o644); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}
	sc, err := scorer.Load(modelPath)
	if err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	c := cache.NewLRUCache(1000)
	q := queue.NewChannelQueue(1000, 4)
	t.Cleanup(func() { q.Close() })

	vel := velocity.NewService(repo, c, time.Hour)
	engine, err := rules.NewEngine(10)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	ctx := context.Background()
	for _, rule := range rules.DefaultRules() {
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
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
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	srv := api.NewServer(domain.ServerConfig{}, repo, c, q, engine, vel, "integration", time.Minute)
	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return &stack{base: httpSrv.URL, repo: repo}
}

type submitRequest struct {
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Location string  `json:"location,omitempty"`
	DeviceID string  `json:"deviceId,omitempty"`
}

type transactionView struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	RiskLevel  string   `json:"riskLevel"`
	RuleScore  *float64 `json:"ruleScore"`
	MLScore    *float64 `json:"mlScore"`
	FinalScore *float64 `json:"finalScore"`
}

func (s *stack) submit(t *testing.T, req submitRequest) string {
	t.Helper()

	body, _ := json.Marshal(req)
	resp, err := http.Post(s.base+"/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var out struct {
		TransactionID string `json:"transactionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	return out.TransactionID
}

func (s *stack) waitTerminal(t *testing.T, txID string) transactionView {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.base + "/transactions/" + txID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		var view transactionView
		err = json.NewDecoder(resp.Body).Decode(&view)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("failed to decode view: %v", err)
		}

		switch view.Status {
		case "approved", "flagged", "rejected", "evaluation_failed":
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("transaction %s never reached a terminal status", txID)
	return transactionView{}
}

func TestEndToEndDecisions(t *testing.T) {
	s := newStack(t)

	t.Run("LowRiskApproved", func(t *testing.T) {
		// Build history first so the device and location are familiar.
		warmupID := s.submit(t, submitRequest{
			UserID: "it-user-low", Amount: 80, Currency: "USD",
			Location: "Berlin", DeviceID: "it-device-low",
		})
		s.waitTerminal(t, warmupID)

		txID := s.submit(t, submitRequest{
			UserID: "it-user-low", Amount: 120, Currency: "USD",
			Location: "Berlin", DeviceID: "it-device-low",
		})
		view := s.waitTerminal(t, txID)

		if view.Status != "approved" || view.RiskLevel != "safe" {
			t.Errorf("expected approved/safe, got %s/%s", view.Status, view.RiskLevel)
		}
		if view.FinalScore == nil || *view.FinalScore >= 0.3 {
			t.Errorf("expected final score below 0.3, got %v", view.FinalScore)
		}
	})

	t.Run("HighRiskRejectedWithAlert", func(t *testing.T) {
		txID := s.submit(t, submitRequest{
			UserID: "it-user-high", Amount: 95000, Currency: "USD",
			Location: "Reykjavik", DeviceID: "it-device-unseen",
		})
		view := s.waitTerminal(t, txID)

		if view.Status != "rejected" || view.RiskLevel != "fraudulent" {
			t.Errorf("expected rejected/fraudulent, got %s/%s", view.Status, view.RiskLevel)
		}
		if view.RuleScore == nil || view.MLScore == nil || view.FinalScore == nil {
			t.Fatal("terminal view must carry all three scores")
		}

		resp, err := http.Get(s.base + "/alerts?transaction_id=" + txID)
		if err != nil {
			t.Fatalf("alerts request failed: %v", err)
		}
		defer resp.Body.Close()

		var listing struct {
			Alerts []struct {
				Type string `json:"type"`
			} `json:"alerts"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			t.Fatalf("failed to decode alerts: %v", err)
		}
		if len(listing.Alerts) != 1 || listing.Alerts[0].Type != "fraud_risk" {
			t.Errorf("expected one fraud_risk alert, got %+v", listing.Alerts)
		}
	})
}

func TestRuleReloadChangesDecisions(t *testing.T) {
	s := newStack(t)

	// A strict rule that fires on every transaction above 100.
	rule := map[string]any{
		"id":         "strict-amount",
		"name":       "Strict amount",
		"expression": "amount > 100.0",
		"weight":     100,
		"enabled":    true,
	}
	body, _ := json.Marshal(rule)
	resp, err := http.Post(s.base+"/rules", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create rule failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp, err = http.Post(s.base+"/rules/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// With the strict rule carrying half the total weight, a mundane
	// transaction now lands above the low threshold.
	txID := s.submit(t, submitRequest{
		UserID: "it-user-reload", Amount: 500, Currency: "USD",
		Location: "Berlin", DeviceID: "it-device-reload",
	})
	view := s.waitTerminal(t, txID)

	if view.Status == "approved" {
		t.Errorf("expected the reloaded rule set to flag the transaction, got %s", view.Status)
	}
	if view.RuleScore == nil || *view.RuleScore < 0.5 {
		t.Errorf("expected rule score >= 0.5 under the strict rule, got %v", view.RuleScore)
	}
}

func TestConcurrentLoad(t *testing.T) {
	s := newStack(t)

	const n = 30
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.submit(t, submitRequest{
			UserID:   fmt.Sprintf("it-load-user-%d", i%5),
			Amount:   100 + float64(i),
			Currency: "USD",
			Location: "Berlin",
			DeviceID: fmt.Sprintf("it-load-device-%d", i%5),
		}))
	}

	for _, id := range ids {
		view := s.waitTerminal(t, id)
		if view.FinalScore == nil {
			t.Errorf("transaction %s finished without a final score (%s)", id, view.Status)
		}
	}
}
