package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"oracleflow/config"
	"oracleflow/internal/metrics"
	"oracleflow/logger"
	"oracleflow/models"
)

// Orchestrator fans one prompt out to every configured endpoint client
// concurrently and always produces exactly one result per client, in
// configured order, no matter how many endpoints fail or time out.
type Orchestrator struct {
	clients      []*Client
	roundTimeout time.Duration
	historyCap   int
	log          *logger.Log

	mu      sync.Mutex
	history []models.RoundRecord
}

// NewOrchestrator creates a dispatcher over the given clients.
func NewOrchestrator(clients []*Client, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		clients:      clients,
		roundTimeout: cfg.RoundTimeout,
		historyCap:   cfg.HistoryCap,
		log:          logger.GetLogger(),
	}
}

// ExecuteRound builds a prompt from the context, dispatches it to every
// client and collects the results. The round itself never fails: endpoint
// errors and timeouts become failed per-endpoint results.
func (o *Orchestrator) ExecuteRound(ctx context.Context, rc models.RoundContext) (models.RoundRecord, []models.RoundResult) {
	prompt := buildPrompt(rc)
	roundID := deriveRoundID(prompt)
	rc.RoundID = roundID

	log := o.log.WithComponent("orchestrator").WithFields(logger.Fields{"round_id": roundID})
	log.WithFields(logger.Fields{"clients": len(o.clients)}).Info("executing round")

	chs := make([]chan models.RoundResult, len(o.clients))
	for i, client := range o.clients {
		chs[i] = make(chan models.RoundResult, 1)
		go func(ch chan<- models.RoundResult, client *Client) {
			resp, err := client.Generate(ctx, prompt, roundID)
			if err != nil {
				ch <- failedResult(client.Name(), err)
				return
			}
			ch <- models.RoundResult{
				Model:     client.Name(),
				Text:      resp.Text,
				LatencyMS: resp.LatencyMS,
				Success:   true,
			}
		}(chs[i], client)
	}

	// Race each client's completion against a single round deadline. A late
	// result is recorded as a timeout; the underlying call is not cancelled,
	// its answer is simply discarded.
	deadline := time.NewTimer(o.roundTimeout)
	defer deadline.Stop()
	expired := false

	results := make([]models.RoundResult, len(o.clients))
	for i := range chs {
		if expired {
			select {
			case r := <-chs[i]:
				results[i] = r
			default:
				results[i] = timeoutResult(o.clients[i].Name())
			}
			continue
		}
		select {
		case r := <-chs[i]:
			results[i] = r
		case <-deadline.C:
			expired = true
			select {
			case r := <-chs[i]:
				results[i] = r
			default:
				results[i] = timeoutResult(o.clients[i].Name())
			}
		case <-ctx.Done():
			expired = true
			select {
			case r := <-chs[i]:
				results[i] = r
			default:
				results[i] = timeoutResult(o.clients[i].Name())
			}
		}
	}

	for _, r := range results {
		if !r.Success {
			metrics.IncrementModelError(r.Model)
		}
	}
	metrics.IncrementRound()

	record := models.RoundRecord{
		RoundID:   roundID,
		Timestamp: rc.Timestamp,
		Context:   rc,
		Results:   results,
	}
	o.appendHistory(record)

	log.WithFields(logger.Fields{
		"results":   len(results),
		"timed_out": expired,
	}).Info("round complete")

	return record, results
}

func (o *Orchestrator) appendHistory(record models.RoundRecord) {
	o.mu.Lock()
	o.history = append(o.history, record)
	if len(o.history) > o.historyCap {
		o.history = o.history[len(o.history)-o.historyCap:]
	}
	o.mu.Unlock()
}

// History returns a copy of the retained round records, oldest first.
func (o *Orchestrator) History() []models.RoundRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.RoundRecord, len(o.history))
	copy(out, o.history)
	return out
}

// Metrics aggregates lifetime counters across all clients.
func (o *Orchestrator) Metrics() models.EnsembleMetrics {
	var totalCalls, successfulCalls, totalErrors int64
	var latencySum float64
	var latencyCount int
	active := 0

	for _, client := range o.clients {
		stats := client.Stats()
		totalCalls += stats.TotalCalls
		successfulCalls += stats.SuccessfulCalls
		totalErrors += stats.ErrorCount
		if stats.AvgLatencyMS > 0 {
			latencySum += stats.AvgLatencyMS
			latencyCount++
		}
		if client.IsHealthy() {
			active++
		}
	}

	successRate := 0.0
	if totalCalls > 0 {
		successRate = float64(successfulCalls) / float64(totalCalls)
	}
	avgLatency := 0.0
	if latencyCount > 0 {
		avgLatency = latencySum / float64(latencyCount)
	}

	o.mu.Lock()
	rounds := len(o.history)
	o.mu.Unlock()

	return models.EnsembleMetrics{
		ActiveClients: active,
		TotalRounds:   rounds,
		SuccessRate:   successRate,
		AvgLatencyMS:  avgLatency,
		TotalErrors:   totalErrors,
	}
}

// deriveRoundID combines wall-clock time with a prompt hash. Collisions are
// tolerated; the id only needs to be stable within one round.
func deriveRoundID(prompt string) string {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("round_%d_%04d", time.Now().Unix(), h.Sum32()%10000)
}

func failedResult(model string, err error) models.RoundResult {
	return models.RoundResult{
		Model:   model,
		Text:    fmt.Sprintf("ERROR: %v", err),
		Error:   err.Error(),
		Success: false,
	}
}

func timeoutResult(model string) models.RoundResult {
	return models.RoundResult{
		Model:   model,
		Text:    "ERROR: Request timeout",
		Error:   "timeout",
		Success: false,
	}
}
