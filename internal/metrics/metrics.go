// Package metrics holds the prometheus collectors for the receipts pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "receipts"

// Metrics groups the collectors registered for one server.
type Metrics struct {
	gatherer prometheus.Gatherer

	requestsTotal   *prometheus.CounterVec
	composeDuration *prometheus.HistogramVec
	imagesStaged    prometheus.Counter
	stagingActive   prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of merge requests by outcome",
			},
			[]string{"outcome"}, // outcome: ok or an error type
		),
		composeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compose_duration_seconds",
				Help:      "Histogram of staging plus composition duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"}, // status: success, error
		),
		imagesStaged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "images_staged_total",
				Help:      "Total number of uploaded images written to staging",
			},
		),
		stagingActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "staging_active",
				Help:      "Number of staging directories currently in use",
			},
		),
	}

	reg.MustRegister(m.requestsTotal, m.composeDuration, m.imagesStaged, m.stagingActive)
	return m
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest counts a finished request by outcome.
func (m *Metrics) RecordRequest(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCompose records how long a staged composition took.
func (m *Metrics) ObserveCompose(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.composeDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) ImageStaged() {
	m.imagesStaged.Inc()
}

// StagingStarted increments the active gauge and returns its decrement.
func (m *Metrics) StagingStarted() func() {
	m.stagingActive.Inc()
	return m.stagingActive.Dec
}
