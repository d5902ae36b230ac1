// Package metrics exposes transfer outcomes to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transfers implements transfer.Recorder.
type Transfers struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTransfers registers the transfer collectors on a fresh registry.
func NewTransfers() *Transfers {
	t := &Transfers{
		registry: prometheus.NewRegistry(),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "transfers_total",
			Help:      "Transfers executed, by outcome code.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payments",
			Name:      "transfer_duration_seconds",
			Help:      "Time spent executing a transfer, including the store transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	t.registry.MustRegister(t.total, t.duration)
	return t
}

func (t *Transfers) ObserveTransfer(outcome string, elapsed time.Duration) {
	t.total.WithLabelValues(outcome).Inc()
	t.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Transfers) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
