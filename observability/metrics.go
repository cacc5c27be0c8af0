package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vaultlend/core/lending"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultlend",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LendingMetrics wraps collectors tracking protocol operations, market
// rates and reserve balances. It satisfies the engine's metrics sink.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	opErrors   *prometheus.CounterVec

	utilization prometheus.Gauge
	borrowRate  prometheus.Gauge
	supplyRate  prometheus.Gauge

	totalSupplied prometheus.Gauge
	totalBorrowed prometheus.Gauge

	reserves        prometheus.Gauge
	feesCollected   prometheus.Gauge
	feesDistributed prometheus.Gauge
}

// Lending returns the singleton metrics registry for the lending engine.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of lending operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "operation_errors_total",
				Help:      "Count of failed lending operations segmented by operation, error code and class.",
			}, []string{"operation", "code", "class"}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "utilization_rate",
				Help:      "Pool utilization as a fraction of supplied collateral (0-1).",
			}),
			borrowRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "borrow_rate",
				Help:      "Current annual borrow rate as a fraction (0-1).",
			}),
			supplyRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "supply_rate",
				Help:      "Current annual supply rate as a fraction (0-1).",
			}),
			totalSupplied: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "total_supplied",
				Help:      "Aggregate collateral supplied across all positions in base units.",
			}),
			totalBorrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "total_borrowed",
				Help:      "Aggregate outstanding debt across all positions in base units.",
			}),
			reserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "reserves",
				Help:      "Undistributed protocol reserves in base units.",
			}),
			feesCollected: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "fees_collected_total_units",
				Help:      "Lifetime fees booked into reserves in base units.",
			}),
			feesDistributed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultlend",
				Subsystem: "lending",
				Name:      "fees_distributed_total_units",
				Help:      "Lifetime fees paid out to the treasury in base units.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.opErrors,
			lendingRegistry.utilization,
			lendingRegistry.borrowRate,
			lendingRegistry.supplyRate,
			lendingRegistry.totalSupplied,
			lendingRegistry.totalBorrowed,
			lendingRegistry.reserves,
			lendingRegistry.feesCollected,
			lendingRegistry.feesDistributed,
		)
	})
	return lendingRegistry
}

// ObserveOperation records one engine operation outcome.
func (m *LendingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	operation := strings.TrimSpace(op)
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		code := lending.Code(err)
		if code == "" {
			code = "unknown"
		}
		m.opErrors.WithLabelValues(operation, code, string(lending.Class(err))).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveRates refreshes the market gauges from a rates snapshot. Rates
// arrive fixed point scaled by 1e8 and are exported as fractions.
func (m *LendingMetrics) ObserveRates(view lending.RatesView) {
	if m == nil {
		return
	}
	m.utilization.Set(scaledToFraction(view.UtilizationRate))
	m.borrowRate.Set(scaledToFraction(view.BorrowRate))
	m.supplyRate.Set(scaledToFraction(view.SupplyRate))
	m.totalSupplied.Set(bigToFloat(view.TotalSupplied))
	m.totalBorrowed.Set(bigToFloat(view.TotalBorrowed))
}

// ObserveReserves refreshes the reserve gauges from a reserves snapshot.
func (m *LendingMetrics) ObserveReserves(view lending.ReservesView) {
	if m == nil {
		return
	}
	m.reserves.Set(bigToFloat(view.CurrentReserves))
	m.feesCollected.Set(bigToFloat(view.TotalFeesCollected))
	m.feesDistributed.Set(bigToFloat(view.TotalFeesDistributed))
}

func scaledToFraction(value *big.Int) float64 {
	return bigToFloat(value) / float64(lending.RateScale)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
