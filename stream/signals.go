package stream

import (
	"context"
	"sync"
	"time"

	"oracleflow/logger"
)

// SignalSource produces one pair of auxiliary signal readings.
type SignalSource func(ctx context.Context) (tips, whales float64, err error)

// zeroSource stands in until a real on-chain signal feed is wired up.
func zeroSource(context.Context) (float64, float64, error) {
	return 0, 0, nil
}

// SignalPoller refreshes the market state's signal proxies on a fixed
// interval from a pluggable source.
type SignalPoller struct {
	state    *MarketState
	source   SignalSource
	interval time.Duration
	log      *logger.Log
	wg       *sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewSignalPoller(state *MarketState, source SignalSource, interval time.Duration) *SignalPoller {
	if source == nil {
		source = zeroSource
	}
	return &SignalPoller{
		state:    state,
		source:   source,
		interval: interval,
		log:      logger.GetLogger(),
		wg:       &sync.WaitGroup{},
	}
}

func (p *SignalPoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.poll(ctx)
}

func (p *SignalPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *SignalPoller) poll(ctx context.Context) {
	defer p.wg.Done()
	log := p.log.WithComponent("signal_poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			tips, whales, err := p.source(ctx)
			if err != nil {
				log.WithError(err).Warn("signal source failed")
				continue
			}
			p.state.SetSignals(tips, whales)
		}
	}
}
