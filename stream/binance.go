package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	binance "github.com/adshao/go-binance/v2"

	"oracleflow/logger"
	"oracleflow/models"
)

// TradeStream feeds Binance trade messages from a managed websocket
// connection into the shared market state.
type TradeStream struct {
	manager *Manager
	state   *MarketState
	log     *logger.Log
}

func NewTradeStream(manager *Manager, state *MarketState) *TradeStream {
	return &TradeStream{
		manager: manager,
		state:   state,
		log:     logger.GetLogger(),
	}
}

// Start begins consuming the trade feed until Stop or context cancellation.
func (t *TradeStream) Start(ctx context.Context) error {
	return t.manager.Start(ctx, t.handle)
}

func (t *TradeStream) Stop() {
	t.manager.Stop()
}

// Health exposes the underlying connection health snapshot.
func (t *TradeStream) Health() Health {
	return t.manager.Health()
}

func (t *TradeStream) handle(message []byte) error {
	var ev models.TradeEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return fmt.Errorf("failed to decode trade message: %w", err)
	}
	t.state.ApplyTrade(ev)
	return nil
}

// BootstrapPrice seeds the market state with the current ticker price over
// REST so the first round does not have to wait for a websocket trade.
func BootstrapPrice(ctx context.Context, state *MarketState, symbol string) error {
	client := binance.NewClient("", "")
	prices, err := client.NewListPricesService().
		Symbol(strings.ToUpper(symbol)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch bootstrap price: %w", err)
	}
	if len(prices) == 0 {
		return fmt.Errorf("no price returned for symbol %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return fmt.Errorf("failed to parse bootstrap price %q: %w", prices[0].Price, err)
	}

	state.SeedPrice(price)
	logger.GetLogger().WithComponent("bootstrap").WithFields(logger.Fields{
		"symbol": symbol,
		"price":  price,
	}).Info("seeded market state from REST ticker")
	return nil
}
