package renewal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors of the renewal core.
// It owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Outcomes       *prometheus.CounterVec
	ChargeDuration *prometheus.HistogramVec
	Dispatched     prometheus.Counter
	Reaped         prometheus.Counter
	Resumed        prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "renewal",
			Name:      "outcomes_total",
			Help:      "Renewal attempts by outcome",
		}, []string{"outcome"}),
		ChargeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "renewal",
			Name:      "charge_duration_seconds",
			Help:      "Duration of payment gateway charges in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renewal",
			Name:      "dispatched_total",
			Help:      "Renewal tasks enqueued by scheduler passes",
		}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renewal",
			Name:      "reaped_claims_total",
			Help:      "Stale renewal claims released by the watchdog",
		}),
		Resumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "renewal",
			Name:      "resumed_total",
			Help:      "Paused subscriptions resumed",
		}),
	}
	reg.MustRegister(m.Outcomes, m.ChargeDuration, m.Dispatched, m.Reaped, m.Resumed)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
