package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"oracleflow/config"
	"oracleflow/logger"
	"oracleflow/models"
)

// Client wraps one model-inference endpoint. A Generate call retries
// transient failures with multiplicative backoff and tracks rolling
// health and latency counters.
type Client struct {
	name            string
	url             string
	httpClient      *http.Client
	requestTimeout  time.Duration
	maxRetries      int
	retryBackoff    float64
	healthThreshold int64
	limiter         *rate.Limiter
	log             *logger.Log

	mu              sync.Mutex
	totalCalls      int64
	successfulCalls int64
	errorCount      int64
	avgLatency      float64
}

// generateRequest is the wire contract for the endpoint.
type generateRequest struct {
	Prompt  string `json:"prompt"`
	RoundID string `json:"round_id"`
}

type generateResponse struct {
	Text     string `json:"text"`
	Response string `json:"response"`
}

// NewClient creates a client for one named endpoint using shared model
// settings from config.
func NewClient(name, url string, cfg config.ModelsConfig) *Client {
	var limiter *rate.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}

	return &Client{
		name:            name,
		url:             url,
		httpClient:      &http.Client{},
		requestTimeout:  cfg.RequestTimeout,
		maxRetries:      cfg.MaxRetries,
		retryBackoff:    cfg.RetryBackoff,
		healthThreshold: int64(cfg.HealthThreshold),
		limiter:         limiter,
		log:             logger.GetLogger(),
	}
}

// Name returns the configured endpoint name.
func (c *Client) Name() string {
	return c.name
}

// Generate performs one logical request against the endpoint, retrying up to
// max_retries times before the failure is propagated to the caller.
func (c *Client) Generate(ctx context.Context, prompt, roundID string) (models.ModelResponse, error) {
	backoff := time.Duration(c.retryBackoff * float64(time.Second))

	for retries := 0; ; retries++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return models.ModelResponse{}, err
			}
		}

		resp, err := c.attempt(ctx, prompt, roundID)
		if err == nil {
			return resp, nil
		}

		if retries >= c.maxRetries {
			return models.ModelResponse{}, fmt.Errorf("endpoint %s: retries exhausted: %w", c.name, err)
		}

		c.log.WithComponent("model_client").WithFields(logger.Fields{
			"model":   c.name,
			"attempt": retries + 1,
			"backoff": backoff.String(),
		}).WithError(err).Warn("generate attempt failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return models.ModelResponse{}, ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * c.retryBackoff)
	}
}

// attempt issues a single request. Every attempt counts toward total_calls.
func (c *Client) attempt(ctx context.Context, prompt, roundID string) (models.ModelResponse, error) {
	c.mu.Lock()
	c.totalCalls++
	c.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Prompt: prompt, RoundID: roundID})
	if err != nil {
		c.recordError()
		return models.ModelResponse{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		c.recordError()
		return models.ModelResponse{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordError()
		return models.ModelResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		c.recordError()
		return models.ModelResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.recordError()
		return models.ModelResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	latencyMS := float64(time.Since(start)) / float64(time.Millisecond)

	text := decoded.Text
	if text == "" {
		text = decoded.Response
	}

	c.mu.Lock()
	c.successfulCalls++
	n := float64(c.successfulCalls)
	c.avgLatency = (c.avgLatency*(n-1) + latencyMS) / n
	c.mu.Unlock()

	return models.ModelResponse{Text: text, LatencyMS: latencyMS}, nil
}

func (c *Client) recordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// IsHealthy reports whether the lifetime error count is still below the
// configured threshold. This is a plain counter, not a stateful breaker.
func (c *Client) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCount < c.healthThreshold
}

// Stats returns a value-copy snapshot of the client counters.
func (c *Client) Stats() models.ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ClientStats{
		TotalCalls:      c.totalCalls,
		SuccessfulCalls: c.successfulCalls,
		ErrorCount:      c.errorCount,
		AvgLatencyMS:    c.avgLatency,
	}
}
