// Benchmark tool for load-testing the RiskForge evaluation pipeline.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 1000
//
// This tool:
//  1. Generates synthetic transactions with a configurable risky fraction
//  2. Submits them through POST /transactions
//  3. Polls GET /transactions/{id} until each reaches a terminal status
//  4. Reports end-to-end latency percentiles and the decision distribution
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SubmitRequest is the ingestion API request format.
type SubmitRequest struct {
	UserID   string  `json:"userId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Location string  `json:"location,omitempty"`
	DeviceID string  `json:"deviceId,omitempty"`
}

// SubmitResponse is the ingestion API response format.
type SubmitResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

// TransactionView is the retrieval API response format.
type TransactionView struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	RiskLevel  string   `json:"riskLevel"`
	FinalScore *float64 `json:"finalScore"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Submitted int64
	Completed int64
	TimedOut  int64
	Errors    int64

	Approved int64
	Flagged  int64
	Rejected int64
	Failed   int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "RiskForge base URL")
	count := flag.Int("count", 1000, "Number of transactions to submit")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	riskyRate := flag.Float64("risky", 0.1, "Fraction of transactions generated with risky traits (0.0-1.0)")
	pollTimeout := flag.Duration("timeout", 30*time.Second, "Per-transaction wait for a terminal status")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("RiskForge benchmark")
	fmt.Printf("  URL:       %s\n", *baseURL)
	fmt.Printf("  Count:     %d\n", *count)
	fmt.Printf("  Workers:   %d\n", *workers)
	fmt.Printf("  Risky:     %.2f\n", *riskyRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: RiskForge not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure RiskForge is running:")
		fmt.Println("  go run cmd/riskforge/main.go")
		os.Exit(1)
	}
	fmt.Println("RiskForge is healthy, starting load")

	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	jobs := make(chan int, *count)
	for i := 0; i < *count; i++ {
		jobs <- i
	}
	close(jobs)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := range jobs {
				runOne(client, *baseURL, i, rng, *riskyRate, *pollTimeout, *verbose, metrics)
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()
	elapsed := time.Since(start)

	printSummary(metrics, elapsed)
}

func runOne(client *http.Client, baseURL string, i int, rng *rand.Rand, riskyRate float64, pollTimeout time.Duration, verbose bool, m *Metrics) {
	req := generateTransaction(i, rng, riskyRate)

	body, _ := json.Marshal(req)
	resp, err := client.Post(baseURL+"/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	var submitted SubmitResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&submitted)
	resp.Body.Close()
	if decodeErr != nil || resp.StatusCode != http.StatusAccepted {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	atomic.AddInt64(&m.Submitted, 1)
	start := time.Now()

	view, ok := pollTerminal(client, baseURL, submitted.TransactionID, pollTimeout)
	if !ok {
		atomic.AddInt64(&m.TimedOut, 1)
		return
	}

	latency := time.Since(start)
	atomic.AddInt64(&m.Completed, 1)
	m.recordLatency(latency)

	switch view.Status {
	case "approved":
		atomic.AddInt64(&m.Approved, 1)
	case "flagged":
		atomic.AddInt64(&m.Flagged, 1)
	case "rejected":
		atomic.AddInt64(&m.Rejected, 1)
	case "evaluation_failed":
		atomic.AddInt64(&m.Failed, 1)
	}

	if verbose {
		score := 0.0
		if view.FinalScore != nil {
			score = *view.FinalScore
		}
		fmt.Printf("  %s  amount=%.2f  status=%s  score=%.4f  latency=%s\n",
			view.ID, req.Amount, view.Status, score, latency.Round(time.Millisecond))
	}
}

// generateTransaction produces a plausible transaction; roughly riskyRate
// of them carry high-risk traits (huge amount, fresh device, new location).
func generateTransaction(i int, rng *rand.Rand, riskyRate float64) SubmitRequest {
	userID := fmt.Sprintf("bench-user-%03d", rng.Intn(50))
	req := SubmitRequest{
		UserID:   userID,
		Amount:   10 + rng.Float64()*490,
		Currency: "USD",
		Location: "New York",
		DeviceID: "device-" + userID,
	}

	if rng.Float64() < riskyRate {
		req.Amount = 50001 + rng.Float64()*100000
		req.DeviceID = fmt.Sprintf("device-fresh-%d-%d", i, rng.Int63())
		req.Location = fmt.Sprintf("City-%d", rng.Intn(10000))
	}
	return req
}

func pollTerminal(client *http.Client, baseURL, txID string, timeout time.Duration) (*TransactionView, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/transactions/" + txID)
		if err == nil {
			var view TransactionView
			decodeErr := json.NewDecoder(resp.Body).Decode(&view)
			resp.Body.Close()
			if decodeErr == nil && isTerminal(view.Status) {
				return &view, true
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, false
}

func isTerminal(status string) bool {
	switch status {
	case "approved", "flagged", "rejected", "evaluation_failed":
		return true
	}
	return false
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func printSummary(m *Metrics, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("Results")
	fmt.Printf("  Elapsed:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Submitted:  %d\n", m.Submitted)
	fmt.Printf("  Completed:  %d\n", m.Completed)
	fmt.Printf("  Timed out:  %d\n", m.TimedOut)
	fmt.Printf("  Errors:     %d\n", m.Errors)
	if elapsed > 0 && m.Completed > 0 {
		fmt.Printf("  Throughput: %.1f tx/s\n", float64(m.Completed)/elapsed.Seconds())
	}
	fmt.Println()
	fmt.Println("Decisions")
	fmt.Printf("  approved:          %d\n", m.Approved)
	fmt.Printf("  flagged:           %d\n", m.Flagged)
	fmt.Printf("  rejected:          %d\n", m.Rejected)
	fmt.Printf("  evaluation_failed: %d\n", m.Failed)

	m.mu.Lock()
	lat := append([]time.Duration(nil), m.latencies...)
	m.mu.Unlock()
	if len(lat) == 0 {
		return
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	fmt.Println()
	fmt.Println("End-to-end latency (submit -> terminal)")
	fmt.Printf("  p50: %s\n", percentile(lat, 0.50).Round(time.Millisecond))
	fmt.Printf("  p95: %s\n", percentile(lat, 0.95).Round(time.Millisecond))
	fmt.Printf("  p99: %s\n", percentile(lat, 0.99).Round(time.Millisecond))
	fmt.Printf("  max: %s\n", lat[len(lat)-1].Round(time.Millisecond))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
