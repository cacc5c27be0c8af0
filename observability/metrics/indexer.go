package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type IndexerMetrics struct {
	eventsIndexed    *prometheus.CounterVec
	upsertFailures   *prometheus.CounterVec
	streamReconnects prometheus.Counter
	lastSequence     prometheus.Gauge
	reconRows        *prometheus.GaugeVec
	reconAnomalies   *prometheus.CounterVec
}

var (
	indexerOnce     sync.Once
	indexerRegistry *IndexerMetrics
)

func Indexer() *IndexerMetrics {
	indexerOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			eventsIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendindex_events_indexed_total",
				Help: "Count of lending events written to the index by kind.",
			}, []string{"kind"}),
			upsertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendindex_upsert_failures_total",
				Help: "Number of failed index writes by table.",
			}, []string{"table"}),
			streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lendindex_stream_reconnects_total",
				Help: "Number of times the event stream subscription was re-established.",
			}),
			lastSequence: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lendindex_last_sequence",
				Help: "Sequence number of the most recently indexed event.",
			}),
			reconRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lendindex_recon_rows",
				Help: "Row count emitted by the most recent reconciliation report.",
			}, []string{"report"}),
			reconAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lendindex_recon_anomalies_total",
				Help: "Count of anomalies flagged during reconciliation by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			indexerRegistry.eventsIndexed,
			indexerRegistry.upsertFailures,
			indexerRegistry.streamReconnects,
			indexerRegistry.lastSequence,
			indexerRegistry.reconRows,
			indexerRegistry.reconAnomalies,
		)
	})
	return indexerRegistry
}

func (m *IndexerMetrics) ObserveEventIndexed(kind string, sequence uint64) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.eventsIndexed.WithLabelValues(kind).Inc()
	m.lastSequence.Set(float64(sequence))
}

func (m *IndexerMetrics) IncUpsertFailure(table string) {
	if m == nil {
		return
	}
	if table == "" {
		table = "unknown"
	}
	m.upsertFailures.WithLabelValues(table).Inc()
}

func (m *IndexerMetrics) IncStreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}

func (m *IndexerMetrics) SetReconRows(report string, rows int) {
	if m == nil {
		return
	}
	if report == "" {
		report = "unknown"
	}
	m.reconRows.WithLabelValues(report).Set(float64(rows))
}

func (m *IndexerMetrics) IncReconAnomaly(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.reconAnomalies.WithLabelValues(kind).Inc()
}
