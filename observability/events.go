package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	swaps     *prometheus.CounterVec
	liquidity *prometheus.CounterVec
	lending   *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "events",
				Name:      "swaps_total",
				Help:      "Count of committed swaps segmented by hop count.",
			}, []string{"hops"}),
			liquidity: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "events",
				Name:      "liquidity_total",
				Help:      "Count of committed liquidity changes segmented by action.",
			}, []string{"action"}),
			lending: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "defi",
				Subsystem: "events",
				Name:      "lending_total",
				Help:      "Count of committed lending actions segmented by asset and action.",
			}, []string{"asset", "action"}),
		}
		prometheus.MustRegister(eventRegistry.swaps, eventRegistry.liquidity, eventRegistry.lending)
	})
	return eventRegistry
}

// RecordSwap increments the swap counter for a route of the given length.
func (m *eventMetrics) RecordSwap(hops int) {
	if m == nil {
		return
	}
	label := "multi"
	if hops <= 1 {
		label = "single"
	}
	m.swaps.WithLabelValues(label).Inc()
}

// RecordLiquidity counts an add or remove of pair liquidity.
func (m *eventMetrics) RecordLiquidity(action string) {
	if m == nil {
		return
	}
	m.liquidity.WithLabelValues(strings.ToLower(strings.TrimSpace(action))).Inc()
}

// RecordLending counts a committed lending action on asset.
func (m *eventMetrics) RecordLending(asset, action string) {
	if m == nil {
		return
	}
	m.lending.WithLabelValues(labelToken(asset), strings.ToLower(strings.TrimSpace(action))).Inc()
}
