// Package observability provides Prometheus instrumentation for the
// dispatch pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmrouter_dispatch_total",
		Help: "Dispatched executions by provider and outcome.",
	}, []string{"provider", "outcome"})

	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmrouter_dispatch_latency_seconds",
		Help:    "Upstream invocation latency by provider.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	failoverTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmrouter_failover_total",
		Help: "Requests served by the secondary provider after a primary failure or open circuit.",
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "llmrouter_breaker_state",
		Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})
)

// Outcome labels for dispatch metrics
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// ObserveDispatch records one upstream invocation attempt
func ObserveDispatch(provider, outcome string, latency time.Duration) {
	dispatchTotal.WithLabelValues(provider, outcome).Inc()
	if outcome != OutcomeSkipped {
		dispatchLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

// ObserveFailover records a request served by the secondary provider
func ObserveFailover() {
	failoverTotal.Inc()
}

// SetBreakerState exports the current breaker state for a provider.
// The numeric encoding orders states by severity so alerts can use
// simple threshold rules.
func SetBreakerState(provider string, state string) {
	var value float64
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	breakerState.WithLabelValues(provider).Set(value)
}
