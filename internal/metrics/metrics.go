// Registers:
//
//	#oracleflow_stream_messages_total
//	#oracleflow_stream_errors_total
//	#oracleflow_stream_reconnects_total
//	#oracleflow_rounds_total
//	#oracleflow_model_errors_total
//	#oracleflow_chain_writes_total
//	#go_* and process_* system metrics
//
// Exposes them on :<port>/metrics using the Prometheus HTTP handler.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once             sync.Once
	streamMessages   prometheus.Counter
	streamErrors     prometheus.Counter
	streamReconnects prometheus.Counter
	roundsTotal      prometheus.Counter
	modelErrors      *prometheus.CounterVec
	chainWrites      prometheus.Counter
	chainRounds      prometheus.Gauge
)

// Init registers the collectors and serves /metrics on the given port.
func Init(port int) {
	once.Do(func() {
		streamMessages = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracleflow_stream_messages_total",
			Help: "Number of messages received from the inbound feed",
		})
		streamErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracleflow_stream_errors_total",
			Help: "Number of connection or handler failures on the inbound feed",
		})
		streamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracleflow_stream_reconnects_total",
			Help: "Number of successful feed (re)connections",
		})
		roundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracleflow_rounds_total",
			Help: "Number of dispatch rounds executed",
		})
		modelErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracleflow_model_errors_total",
				Help: "Number of failed per-endpoint results",
			},
			[]string{"model"},
		)
		chainWrites = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracleflow_chain_writes_total",
			Help: "Number of round records appended to the chained archive",
		})
		chainRounds = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oracleflow_chain_rounds",
			Help: "Rounds folded into the current chain root",
		})

		_ = prometheus.Register(streamMessages)
		_ = prometheus.Register(streamErrors)
		_ = prometheus.Register(streamReconnects)
		_ = prometheus.Register(roundsTotal)
		_ = prometheus.Register(modelErrors)
		_ = prometheus.Register(chainWrites)
		_ = prometheus.Register(chainRounds)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(fmt.Sprintf("0.0.0.0:%d", port), mux); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementStreamMessage counts one inbound feed message.
func IncrementStreamMessage() {
	if streamMessages != nil {
		streamMessages.Inc()
	}
}

// IncrementStreamError counts one feed connection or handler failure.
func IncrementStreamError() {
	if streamErrors != nil {
		streamErrors.Inc()
	}
}

// IncrementStreamReconnect counts one successful feed (re)connection.
func IncrementStreamReconnect() {
	if streamReconnects != nil {
		streamReconnects.Inc()
	}
}

// IncrementRound counts one executed dispatch round.
func IncrementRound() {
	if roundsTotal != nil {
		roundsTotal.Inc()
	}
}

// IncrementModelError counts one failed result for the given model.
func IncrementModelError(model string) {
	if modelErrors != nil {
		modelErrors.WithLabelValues(model).Inc()
	}
}

// IncrementChainWrite counts one record appended to the chained archive.
func IncrementChainWrite() {
	if chainWrites != nil {
		chainWrites.Inc()
	}
}

// SetChainRounds records how many rounds the current root covers.
func SetChainRounds(n int64) {
	if chainRounds != nil {
		chainRounds.Set(float64(n))
	}
}
