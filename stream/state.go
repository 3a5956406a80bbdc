package stream

import (
	"sync"
	"time"

	"oracleflow/models"
)

// MarketState holds the latest observed market values shared between the
// feed handlers and the round trigger. Readers always get value copies.
type MarketState struct {
	mu        sync.RWMutex
	symbol    string
	price     float64
	tips      float64
	whales    float64
	source    string
	updatedAt time.Time
}

func NewMarketState(symbol string) *MarketState {
	return &MarketState{symbol: symbol, source: "binance_ws"}
}

// ApplyTrade records the latest trade price.
func (s *MarketState) ApplyTrade(ev models.TradeEvent) {
	s.mu.Lock()
	s.price = ev.Price
	s.updatedAt = time.UnixMilli(ev.TradeTime)
	s.mu.Unlock()
}

// SeedPrice sets an initial price but never overwrites live trade data.
func (s *MarketState) SeedPrice(price float64) {
	s.mu.Lock()
	if s.updatedAt.IsZero() {
		s.price = price
	}
	s.mu.Unlock()
}

// SetSignals updates the auxiliary signal proxies.
func (s *MarketState) SetSignals(tips, whales float64) {
	s.mu.Lock()
	s.tips = tips
	s.whales = whales
	s.mu.Unlock()
}

// SetSource labels where the current trending data originates.
func (s *MarketState) SetSource(source string) {
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()
}

// Ready reports whether at least one price observation has arrived.
func (s *MarketState) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price > 0
}

// Snapshot returns an immutable round context built from the current state.
func (s *MarketState) Snapshot() models.RoundContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.RoundContext{
		Symbol:         s.symbol,
		Price:          s.price,
		TipsProxy:      s.tips,
		WhalesProxy:    s.whales,
		TrendingSource: s.source,
		Timestamp:      float64(time.Now().UnixMilli()) / 1000.0,
	}
}
