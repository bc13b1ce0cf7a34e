// Package metrics exposes the gateway's Prometheus instrumentation on a
// private registry so the /metrics endpoint never leaks collectors
// registered by dependencies.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatewayd"

// Metrics bundles every collector the gateway records into. A nil *Metrics
// is valid everywhere one is accepted; all record methods are no-ops on nil
// so tests can construct components without wiring instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	queueWait       prometheus.Histogram
	fallbackTotal   prometheus.Counter
	providerUp      *prometheus.GaugeVec
	switchesTotal   prometheus.Counter
}

// New creates a Metrics with all collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed chat-completion requests by final status.",
		}, []string{"status"}),
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Wall time of adapter forwards by provider.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs currently queued per model.",
		}, []string{"model"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time jobs spent queued before their adapter forward began.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		fallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_attempts_total",
			Help:      "Route fallback re-submissions after a classified failure.",
		}),
		providerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_up",
			Help:      "1 when the provider's last health probe succeeded.",
		}, []string{"provider"}),
		switchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_switches_total",
			Help:      "Provider stop-before-start switches performed by the scheduler.",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.forwardDuration,
		m.queueDepth,
		m.queueWait,
		m.fallbackTotal,
		m.providerUp,
		m.switchesTotal,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one completed request with its final status
// ("done" or a normalized error name).
func (m *Metrics) RecordRequest(status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(status).Inc()
}

// ObserveForward records one adapter forward's wall time.
func (m *Metrics) ObserveForward(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.forwardDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveQueueWait records how long a job sat queued before running.
func (m *Metrics) ObserveQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}

// SetQueueDepth publishes the current queue length for model.
func (m *Metrics) SetQueueDepth(model string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(model).Set(float64(depth))
}

// RecordFallback counts one fallback re-submission.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.fallbackTotal.Inc()
}

// SetProviderUp publishes a provider's probed health.
func (m *Metrics) SetProviderUp(provider string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	m.providerUp.WithLabelValues(provider).Set(v)
}

// RecordSwitch counts one provider switch.
func (m *Metrics) RecordSwitch() {
	if m == nil {
		return
	}
	m.switchesTotal.Inc()
}
