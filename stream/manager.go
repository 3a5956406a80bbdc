package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"oracleflow/config"
	"oracleflow/internal/metrics"
	"oracleflow/internal/resilience"
	"oracleflow/logger"
)

// Handler receives one raw inbound message. A returned error counts against
// the feed's circuit breaker and forces a reconnect.
type Handler func(message []byte) error

// Health is a value-copy snapshot of the connection counters.
type Health struct {
	MessageCount    int64   `json:"message_count"`
	ErrorCount      int64   `json:"error_count"`
	ReconnectCount  int64   `json:"reconnect_count"`
	CurrentDowntime float64 `json:"current_downtime"`
	TotalDowntime   float64 `json:"total_downtime"`
	BreakerState    string  `json:"circuit_breaker_state"`
}

// Manager keeps one long-lived websocket connection alive, reconnecting with
// exponential backoff gated by a circuit breaker. Transient failures never
// propagate out of the read loop; they only degrade the health counters.
type Manager struct {
	cfg     config.StreamConfig
	breaker *resilience.Breaker
	log     *logger.Log
	ctx     context.Context
	wg      *sync.WaitGroup
	now     func() time.Time

	mu            sync.Mutex
	running       bool
	conn          *websocket.Conn
	stopCh        chan struct{}
	lastMessage   time.Time
	messageCount  int64
	errorCount    int64
	reconnects    int64
	totalDowntime time.Duration
}

// NewManager creates a stream manager for the configured feed URL.
func NewManager(cfg config.StreamConfig, breaker *resilience.Breaker) *Manager {
	return &Manager{
		cfg:     cfg,
		breaker: breaker,
		log:     logger.GetLogger(),
		wg:      &sync.WaitGroup{},
		now:     time.Now,
	}
}

// Start launches the connection loop. Each inbound message is handed to
// handler; the loop runs until Stop or context cancellation.
func (m *Manager) Start(ctx context.Context, handler Handler) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("stream manager already running")
	}
	m.running = true
	m.ctx = ctx
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.log.WithComponent("stream_manager").WithFields(logger.Fields{
		"url": m.cfg.URL,
	}).Info("starting stream manager")

	m.wg.Add(1)
	go m.run(handler)
	return nil
}

// Stop signals the read loop to exit and waits for it. The current
// connection is closed so a blocking read returns promptly.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.log.WithComponent("stream_manager").Info("stream manager stopped")
}

func (m *Manager) run(handler Handler) {
	defer m.wg.Done()
	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{"url": m.cfg.URL})

	backoff := m.cfg.BackoffFloor

	for m.isRunning() && m.ctx.Err() == nil {
		if !m.breaker.Allow() {
			log.WithFields(logger.Fields{"state": m.breaker.State().String()}).
				Debug("circuit breaker open, waiting before reconnect")
			if !m.sleep(m.cfg.BreakerWait) {
				return
			}
			continue
		}

		dialer := websocket.Dialer{HandshakeTimeout: m.cfg.PingTimeout}
		conn, _, err := dialer.Dial(m.cfg.URL, nil)
		if err != nil {
			m.recordError()
			m.breaker.OnFailure()
			logger.IncrementRetryCount()
			log.WithError(err).Warn("failed to connect websocket, backing off")
			if !m.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, m.cfg.BackoffCap)
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.reconnects++
		m.mu.Unlock()
		metrics.IncrementStreamReconnect()
		backoff = m.cfg.BackoffFloor

		log.Info("websocket connection established")

		if readErr := m.readLoop(conn, handler); readErr != nil {
			m.recordError()
			m.breaker.OnFailure()
			if m.isRunning() {
				log.WithError(readErr).Warn("websocket read failed, backing off")
				if !m.sleep(backoff) {
					return
				}
				backoff = nextBackoff(backoff, m.cfg.BackoffCap)
			}
		}
	}
}

// readLoop consumes messages until the connection breaks, the handler fails
// or the manager is stopped. A handler failure is reported to the breaker
// here and returns nil so the outer loop reconnects without backoff.
// The read deadline is armed up front and extended on every pong, so a peer
// that goes silent without closing surfaces as a read error within one
// keepalive budget instead of blocking forever.
func (m *Manager) readLoop(conn *websocket.Conn, handler Handler) error {
	defer conn.Close()

	keepalive := m.cfg.PingInterval + m.cfg.PingTimeout
	if err := conn.SetReadDeadline(m.now().Add(keepalive)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(m.now().Add(keepalive))
	})

	done := make(chan struct{})
	defer close(done)
	go m.pingLoop(conn, done)

	log := m.log.WithComponent("stream_manager")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !m.isRunning() {
				return nil
			}
			return err
		}

		m.mu.Lock()
		m.lastMessage = m.now()
		m.messageCount++
		m.mu.Unlock()
		metrics.IncrementStreamMessage()

		if !m.isRunning() {
			return nil
		}

		if err := handler(message); err != nil {
			m.recordError()
			m.breaker.OnFailure()
			log.WithError(err).Warn("message handler failed, reconnecting")
			return nil
		}
		m.breaker.OnSuccess()
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := m.now().Add(m.cfg.PingTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Health returns a snapshot of the connection counters. Current downtime is
// time since the last message minus the configured grace period, floored at
// zero, and is folded into the cumulative total on each call.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current time.Duration
	if !m.lastMessage.IsZero() {
		current = m.now().Sub(m.lastMessage) - m.cfg.DowntimeGrace
		if current < 0 {
			current = 0
		}
		m.totalDowntime += current
	}

	return Health{
		MessageCount:    m.messageCount,
		ErrorCount:      m.errorCount,
		ReconnectCount:  m.reconnects,
		CurrentDowntime: current.Seconds(),
		TotalDowntime:   m.totalDowntime.Seconds(),
		BreakerState:    m.breaker.State().String(),
	}
}

func (m *Manager) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) recordError() {
	m.mu.Lock()
	m.errorCount++
	m.mu.Unlock()
	metrics.IncrementStreamError()
}

// sleep waits for d and reports false when the manager is stopped or its
// context cancelled while waiting.
func (m *Manager) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.stopCh:
		return false
	case <-m.ctx.Done():
		return false
	}
}

func nextBackoff(current, cap time.Duration) time.Duration {
	next := current * 2
	if next > cap {
		next = cap
	}
	return next
}
