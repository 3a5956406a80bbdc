package models

// TradeEvent represents a single trade message from the exchange websocket feed.
type TradeEvent struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p,string"`
	Quantity  float64 `json:"q,string"`
	TradeTime int64   `json:"T"`
}

// RoundContext is the immutable market snapshot a dispatch round is built from.
type RoundContext struct {
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	TipsProxy      float64 `json:"sol_tips_proxy"`
	WhalesProxy    float64 `json:"sol_whales_proxy"`
	TrendingSource string  `json:"trending_source"`
	Timestamp      float64 `json:"timestamp"`
	RoundID        string  `json:"round_id"`
}

// ModelResponse is a successful answer from one inference endpoint.
type ModelResponse struct {
	Text      string  `json:"text"`
	LatencyMS float64 `json:"latency_ms"`
}

// RoundResult is the per-endpoint outcome of one round. Exactly one is
// produced per endpoint per round and it is never mutated afterwards.
type RoundResult struct {
	Model     string  `json:"model"`
	Text      string  `json:"text"`
	LatencyMS float64 `json:"lat_ms"`
	Error     string  `json:"error"`
	Success   bool    `json:"success"`
}

// RoundRecord is the unit persisted by the chained archive.
type RoundRecord struct {
	RoundID   string        `json:"round_id"`
	Timestamp float64       `json:"timestamp"`
	Context   RoundContext  `json:"context"`
	Results   []RoundResult `json:"results"`
}

// ClientStats is a value-copy snapshot of one endpoint client's counters.
type ClientStats struct {
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	ErrorCount      int64   `json:"error_count"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
}

// EnsembleMetrics aggregates lifetime counters across all endpoint clients.
type EnsembleMetrics struct {
	ActiveClients int     `json:"active_clients"`
	TotalRounds   int     `json:"total_rounds"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMS  float64 `json:"avg_latency"`
	TotalErrors   int64   `json:"total_errors"`
}
