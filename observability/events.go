package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vaultlend/core/lending"
)

type eventMetrics struct {
	events *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed lending events.
// The registry satisfies the event mux sink contract, so it can be
// registered directly on the engine's event stream.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed lending events segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(eventRegistry.events)
	})
	return eventRegistry
}

// HandleLendingEvent increments the event counter for the published kind.
func (m *eventMetrics) HandleLendingEvent(evt lending.Event) {
	if m == nil {
		return
	}
	kind := strings.TrimSpace(string(evt.Kind))
	if kind == "" {
		kind = "unknown"
	}
	m.events.WithLabelValues(kind).Inc()
}
