package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"oracleflow/config"
	"oracleflow/internal/resilience"
)

func testStreamConfig(url string) config.StreamConfig {
	return config.StreamConfig{
		Symbol:        "btcusdt",
		URL:           url,
		PingInterval:  time.Second,
		PingTimeout:   time.Second,
		BackoffFloor:  10 * time.Millisecond,
		BackoffCap:    40 * time.Millisecond,
		BreakerWait:   10 * time.Millisecond,
		DowntimeGrace: 0,
	}
}

// wsServer serves a websocket endpoint that sends the given messages on
// every connection and then closes it.
func wsServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep the connection open briefly so the client reads everything.
		time.Sleep(50 * time.Millisecond)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestManagerDeliversMessages(t *testing.T) {
	srv := wsServer(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`})
	defer srv.Close()

	var received int64
	breaker := resilience.New(5, time.Minute)
	m := NewManager(testStreamConfig(wsURL(srv)), breaker)

	err := m.Start(context.Background(), func(msg []byte) error {
		atomic.AddInt64(&received, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return atomic.LoadInt64(&received) >= 3
	})
	m.Stop()

	health := m.Health()
	if health.MessageCount < 3 {
		t.Errorf("message_count = %d, want >= 3", health.MessageCount)
	}
	if health.ReconnectCount < 1 {
		t.Errorf("reconnect_count = %d, want >= 1", health.ReconnectCount)
	}
	if health.BreakerState != "CLOSED" {
		t.Errorf("breaker state = %s, want CLOSED", health.BreakerState)
	}
}

func TestManagerReconnectsAfterDisconnect(t *testing.T) {
	srv := wsServer(t, []string{`{"n":1}`})
	defer srv.Close()

	breaker := resilience.New(100, time.Minute)
	m := NewManager(testStreamConfig(wsURL(srv)), breaker)

	if err := m.Start(context.Background(), func([]byte) error { return nil }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The server drops every connection after one message, so the manager
	// has to reconnect to keep receiving.
	waitFor(t, 3*time.Second, func() bool {
		return m.Health().ReconnectCount >= 2 && m.Health().MessageCount >= 2
	})
	m.Stop()
}

func TestManagerHandlerErrorTripsBreaker(t *testing.T) {
	srv := wsServer(t, []string{`{"n":1}`})
	defer srv.Close()

	breaker := resilience.New(1, time.Hour)
	m := NewManager(testStreamConfig(wsURL(srv)), breaker)

	if err := m.Start(context.Background(), func([]byte) error {
		return errors.New("handler blew up")
	}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		h := m.Health()
		return h.ErrorCount >= 1 && h.BreakerState == "OPEN"
	})
	m.Stop()
}

func TestManagerDialFailureBacksOff(t *testing.T) {
	breaker := resilience.New(100, time.Minute)
	// Nothing listens on this address.
	m := NewManager(testStreamConfig("ws://127.0.0.1:1/stream"), breaker)

	if err := m.Start(context.Background(), func([]byte) error { return nil }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return m.Health().ErrorCount >= 2
	})
	m.Stop()

	if got := m.Health().MessageCount; got != 0 {
		t.Errorf("message_count = %d, want 0", got)
	}
}

// silentServer upgrades the connection and then neither reads nor writes, so
// it never answers pings and never closes from its side.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-r.Context().Done()
	}))
}

func TestManagerDetectsSilentConnection(t *testing.T) {
	srv := silentServer(t)
	defer srv.Close()

	cfg := testStreamConfig(wsURL(srv))
	cfg.PingInterval = 100 * time.Millisecond
	cfg.PingTimeout = 100 * time.Millisecond

	breaker := resilience.New(100, time.Minute)
	m := NewManager(cfg, breaker)
	if err := m.Start(context.Background(), func([]byte) error { return nil }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The peer never errors, closes or pongs; the read deadline must expire
	// and force a reconnect anyway.
	waitFor(t, 3*time.Second, func() bool {
		h := m.Health()
		return h.ErrorCount >= 1 && h.ReconnectCount >= 2
	})
	m.Stop()
}

func TestManagerStopUnblocksRead(t *testing.T) {
	srv := silentServer(t)
	defer srv.Close()

	breaker := resilience.New(5, time.Minute)
	m := NewManager(testStreamConfig(wsURL(srv)), breaker)
	if err := m.Start(context.Background(), func([]byte) error { return nil }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return m.Health().ReconnectCount >= 1
	})

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not unblock the read loop")
	}
}

func TestManagerStartTwiceFails(t *testing.T) {
	srv := wsServer(t, nil)
	defer srv.Close()

	m := NewManager(testStreamConfig(wsURL(srv)), resilience.New(5, time.Minute))
	if err := m.Start(context.Background(), func([]byte) error { return nil }); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if err := m.Start(context.Background(), func([]byte) error { return nil }); err == nil {
		t.Errorf("second Start must fail while running")
	}
}
