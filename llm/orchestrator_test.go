package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"oracleflow/config"
	"oracleflow/models"
)

func testContext() models.RoundContext {
	return models.RoundContext{
		Symbol:         "btcusdt",
		Price:          65000.25,
		TrendingSource: "binance_ws",
		Timestamp:      1700000000.5,
	}
}

func textServer(t *testing.T, text string, delay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func errorServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
}

func TestExecuteRoundOneResultPerClientInOrder(t *testing.T) {
	okSrv := textServer(t, "ok", 0)
	defer okSrv.Close()
	failSrv := errorServer(t)
	defer failSrv.Close()

	cfg := testModelsConfig()
	cfg.MaxRetries = 0
	clients := []*Client{
		NewClient("model_a", okSrv.URL, cfg),
		NewClient("model_b", failSrv.URL, cfg),
	}
	o := NewOrchestrator(clients, config.OrchestratorConfig{
		RoundTimeout: 5 * time.Second,
		HistoryCap:   10,
	})

	record, results := o.ExecuteRound(context.Background(), testContext())

	if len(results) != 2 {
		t.Fatalf("expected exactly 2 results, got %d", len(results))
	}
	if results[0].Model != "model_a" || results[1].Model != "model_b" {
		t.Errorf("results out of configured order: %s, %s", results[0].Model, results[1].Model)
	}
	if !results[0].Success || results[0].Text != "ok" {
		t.Errorf("expected first result success with text ok, got %+v", results[0])
	}
	if results[1].Success || results[1].Error == "" {
		t.Errorf("expected second result failed with error, got %+v", results[1])
	}
	if record.RoundID == "" || record.Context.RoundID != record.RoundID {
		t.Errorf("record must carry the derived round id, got %+v", record.RoundID)
	}
}

func TestExecuteRoundTimeout(t *testing.T) {
	slowSrv := textServer(t, "late", 300*time.Millisecond)
	defer slowSrv.Close()
	fastSrv := textServer(t, "fast", 0)
	defer fastSrv.Close()

	cfg := testModelsConfig()
	cfg.MaxRetries = 0
	clients := []*Client{
		NewClient("fast_model", fastSrv.URL, cfg),
		NewClient("slow_model", slowSrv.URL, cfg),
	}
	o := NewOrchestrator(clients, config.OrchestratorConfig{
		RoundTimeout: 80 * time.Millisecond,
		HistoryCap:   10,
	})

	start := time.Now()
	_, results := o.ExecuteRound(context.Background(), testContext())
	elapsed := time.Since(start)

	if elapsed > 250*time.Millisecond {
		t.Errorf("round must return within the timeout, took %v", elapsed)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Success {
		t.Errorf("fast endpoint should have completed, got %+v", results[0])
	}
	if results[1].Success || results[1].Error != "timeout" {
		t.Errorf("pending endpoint must be recorded as timeout, got %+v", results[1])
	}
	if results[1].LatencyMS != 0 {
		t.Errorf("timeout result must have zero latency, got %v", results[1].LatencyMS)
	}
}

func TestExecuteRoundManyClients(t *testing.T) {
	const n = 5
	servers := make([]*httptest.Server, n)
	clients := make([]*Client, n)
	cfg := testModelsConfig()
	for i := 0; i < n; i++ {
		servers[i] = textServer(t, fmt.Sprintf("answer %d", i), 0)
		defer servers[i].Close()
		clients[i] = NewClient(fmt.Sprintf("model_%d", i), servers[i].URL, cfg)
	}

	o := NewOrchestrator(clients, config.OrchestratorConfig{
		RoundTimeout: 5 * time.Second,
		HistoryCap:   10,
	})
	_, results := o.ExecuteRound(context.Background(), testContext())

	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, r := range results {
		if r.Model != fmt.Sprintf("model_%d", i) {
			t.Errorf("result %d out of order: %s", i, r.Model)
		}
		if !r.Success || r.Text != fmt.Sprintf("answer %d", i) {
			t.Errorf("unexpected result %d: %+v", i, r)
		}
	}
}

func TestHistoryCapEvictsOldestFirst(t *testing.T) {
	srv := textServer(t, "ok", 0)
	defer srv.Close()

	cfg := testModelsConfig()
	o := NewOrchestrator([]*Client{NewClient("model_a", srv.URL, cfg)}, config.OrchestratorConfig{
		RoundTimeout: 5 * time.Second,
		HistoryCap:   2,
	})

	contexts := make([]models.RoundContext, 3)
	for i := range contexts {
		rc := testContext()
		rc.Price = float64(100 + i)
		contexts[i] = rc
		o.ExecuteRound(context.Background(), rc)
	}

	history := o.History()
	if len(history) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(history))
	}
	if history[0].Context.Price != 101 || history[1].Context.Price != 102 {
		t.Errorf("expected the oldest round evicted first, got prices %v, %v",
			history[0].Context.Price, history[1].Context.Price)
	}
}

func TestEnsembleMetrics(t *testing.T) {
	okSrv := textServer(t, "ok", 0)
	defer okSrv.Close()
	failSrv := errorServer(t)
	defer failSrv.Close()

	cfg := testModelsConfig()
	cfg.MaxRetries = 0
	cfg.HealthThreshold = 1
	clients := []*Client{
		NewClient("model_a", okSrv.URL, cfg),
		NewClient("model_b", failSrv.URL, cfg),
	}
	o := NewOrchestrator(clients, config.OrchestratorConfig{
		RoundTimeout: 5 * time.Second,
		HistoryCap:   10,
	})
	o.ExecuteRound(context.Background(), testContext())

	m := o.Metrics()
	if m.TotalRounds != 1 {
		t.Errorf("total rounds = %d, want 1", m.TotalRounds)
	}
	if m.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", m.SuccessRate)
	}
	if m.ActiveClients != 1 {
		t.Errorf("active clients = %d, want 1", m.ActiveClients)
	}
	if m.TotalErrors != 1 {
		t.Errorf("total errors = %d, want 1", m.TotalErrors)
	}
	if m.AvgLatencyMS <= 0 {
		t.Errorf("avg latency must reflect the successful client, got %v", m.AvgLatencyMS)
	}
}

func TestBuildPromptStable(t *testing.T) {
	rc := testContext()
	if buildPrompt(rc) != buildPrompt(rc) {
		t.Fatalf("prompt must be byte-stable for identical contexts")
	}
	other := rc
	other.Price = rc.Price + 1
	if buildPrompt(rc) == buildPrompt(other) {
		t.Errorf("prompt must reflect the round context")
	}
}
