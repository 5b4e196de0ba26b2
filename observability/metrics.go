package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording native module
// operations executed by the node.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "module",
				Name:      "operations_total",
				Help:      "Total module operations segmented by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total module operation failures segmented by module, operation and reason.",
			}, []string{"module", "operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "defi",
				Subsystem: "module",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for module operations including the state commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "operation"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module operation. Reason should be a
// stable, low-cardinality classification of err.
func (m *moduleMetrics) Observe(module, operation, reason string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if reason == "" {
			reason = "internal"
		}
		m.errors.WithLabelValues(module, operation, reason).Inc()
	}
	m.requests.WithLabelValues(module, operation, outcome).Inc()
	m.latency.WithLabelValues(module, operation).Observe(duration.Seconds())
}

// OracleMetrics tracks accumulator updates and the latest published prices.
type OracleMetrics struct {
	updates *prometheus.CounterVec
	price   *prometheus.GaugeVec
}

// Oracle returns the singleton oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "oracle",
				Name:      "updates_total",
				Help:      "Count of windowed oracle update calls segmented by token and outcome.",
			}, []string{"token", "outcome"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "defi",
				Subsystem: "oracle",
				Name:      "price_in_base",
				Help:      "Latest observed token price in base-token units.",
			}, []string{"token", "kind"}),
		}
		prometheus.MustRegister(oracleRegistry.updates, oracleRegistry.price)
	})
	return oracleRegistry
}

// RecordUpdate counts an update call. Outcome is "written", "skipped" or
// "error".
func (m *OracleMetrics) RecordUpdate(token, outcome string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(labelToken(token), outcome).Inc()
}

// RecordPrice publishes a WAD-scaled price.
func (m *OracleMetrics) RecordPrice(token, kind string, wadPrice *big.Int) {
	if m == nil || wadPrice == nil {
		return
	}
	m.price.WithLabelValues(labelToken(token), kind).Set(bigToFloat(wadPrice) / 1e18)
}

// KeeperMetrics bundles collectors for the oracle keeper loop.
type KeeperMetrics struct {
	ticks       *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

// Keeper returns the metrics registry for the oracle keeper.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "keeper",
				Name:      "ticks_total",
				Help:      "Count of keeper ticks segmented by outcome.",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "defi",
				Subsystem: "keeper",
				Name:      "tick_duration_seconds",
				Help:      "Latency distribution for a full keeper tick.",
				Buckets:   prometheus.DefBuckets,
			}),
			lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "defi",
				Subsystem: "keeper",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last tick that updated every configured pair.",
			}),
		}
		prometheus.MustRegister(keeperRegistry.ticks, keeperRegistry.duration, keeperRegistry.lastSuccess)
	})
	return keeperRegistry
}

// ObserveTick records a finished tick.
func (m *KeeperMetrics) ObserveTick(failures int, started time.Time, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if failures > 0 {
		outcome = "partial"
	} else {
		m.lastSuccess.Set(float64(started.Unix()))
	}
	m.ticks.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

type gatewayMetrics struct {
	throttles *prometheus.CounterVec
}

// Gateway returns the registry for gateway-level policies.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(gatewayRegistry.throttles)
	})
	return gatewayRegistry
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *gatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

func labelToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
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
