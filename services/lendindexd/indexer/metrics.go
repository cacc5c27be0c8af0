package indexer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type indexerMetrics struct {
	indexed    *prometheus.CounterVec
	failures   prometheus.Counter
	reconnects prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsReg  *indexerMetrics
)

func metrics() *indexerMetrics {
	metricsOnce.Do(func() {
		metricsReg = &indexerMetrics{
			indexed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "indexer",
				Name:      "events_indexed_total",
				Help:      "Committed lending events written to the index, segmented by kind.",
			}, []string{"kind"}),
			failures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "indexer",
				Name:      "apply_failures_total",
				Help:      "Events whose database apply failed and will be retried after reconnect.",
			}),
			reconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "indexer",
				Name:      "stream_reconnects_total",
				Help:      "Websocket event stream reconnection attempts.",
			}),
		}
		prometheus.MustRegister(metricsReg.indexed, metricsReg.failures, metricsReg.reconnects)
	})
	return metricsReg
}
