package stream

import (
	"context"
	"testing"
	"time"

	"oracleflow/models"
)

func TestMarketStateApplyTrade(t *testing.T) {
	s := NewMarketState("btcusdt")
	if s.Ready() {
		t.Fatalf("fresh state must not be ready")
	}

	s.ApplyTrade(models.TradeEvent{Symbol: "BTCUSDT", Price: 65000.5, TradeTime: 1700000000000})
	if !s.Ready() {
		t.Fatalf("state must be ready after first trade")
	}

	snap := s.Snapshot()
	if snap.Symbol != "btcusdt" {
		t.Errorf("symbol = %q, want btcusdt", snap.Symbol)
	}
	if snap.Price != 65000.5 {
		t.Errorf("price = %v, want 65000.5", snap.Price)
	}
	if snap.TrendingSource != "binance_ws" {
		t.Errorf("trending_source = %q, want binance_ws", snap.TrendingSource)
	}
	if snap.Timestamp <= 0 {
		t.Errorf("timestamp must be positive, got %v", snap.Timestamp)
	}
}

func TestMarketStateSeedPriceNeverOverwritesLiveData(t *testing.T) {
	s := NewMarketState("btcusdt")

	s.SeedPrice(100)
	if got := s.Snapshot().Price; got != 100 {
		t.Fatalf("seed on empty state must take effect, got %v", got)
	}

	s.ApplyTrade(models.TradeEvent{Price: 200, TradeTime: 1700000000000})
	s.SeedPrice(300)
	if got := s.Snapshot().Price; got != 200 {
		t.Errorf("seed must not overwrite a live trade price, got %v", got)
	}
}

func TestMarketStateSignalsAndSource(t *testing.T) {
	s := NewMarketState("btcusdt")
	s.SetSignals(1.5, 2.5)
	s.SetSource("onchain")

	snap := s.Snapshot()
	if snap.TipsProxy != 1.5 || snap.WhalesProxy != 2.5 {
		t.Errorf("signals not applied: %+v", snap)
	}
	if snap.TrendingSource != "onchain" {
		t.Errorf("trending_source = %q, want onchain", snap.TrendingSource)
	}
}

func TestTradeStreamHandleDecodesTradeMessage(t *testing.T) {
	state := NewMarketState("btcusdt")
	ts := NewTradeStream(nil, state)

	msg := []byte(`{"s":"BTCUSDT","p":"65000.5","q":"0.1","T":1700000000000}`)
	if err := ts.handle(msg); err != nil {
		t.Fatalf("handle failed on valid trade message: %v", err)
	}
	if got := state.Snapshot().Price; got != 65000.5 {
		t.Errorf("price = %v, want 65000.5", got)
	}

	if err := ts.handle([]byte("not json")); err == nil {
		t.Errorf("malformed message must return an error")
	}
}

func TestSignalPollerUpdatesState(t *testing.T) {
	state := NewMarketState("btcusdt")
	source := func(context.Context) (float64, float64, error) {
		return 3.5, 7.25, nil
	}

	p := NewSignalPoller(state, source, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, time.Second, func() bool {
		snap := state.Snapshot()
		return snap.TipsProxy == 3.5 && snap.WhalesProxy == 7.25
	})
}
