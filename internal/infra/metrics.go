package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SamplesTotal *prometheus.CounterVec
	Snapshots    *prometheus.CounterVec
}

// NewMetrics registers the collectors. observers reports the live observer
// count and may be nil.
func NewMetrics(observers func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		SamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoquest_samples_total",
				Help: "Position samples processed, by result (accepted, invalid, unknown_rider, speed)",
			},
			[]string{"result"},
		),
		Snapshots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoquest_snapshots_total",
				Help: "Durable snapshot saves, by status (ok, error)",
			},
			[]string{"status"},
		),
	}

	if observers != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "geoquest_observers",
				Help: "Currently connected WebSocket observers",
			},
			func() float64 { return float64(observers()) },
		)
	}
	return m
}

// SampleProcessed counts one sample outcome.
func (m *Metrics) SampleProcessed(result string) {
	m.SamplesTotal.WithLabelValues(result).Inc()
}

// SnapshotSaved counts one snapshot attempt.
func (m *Metrics) SnapshotSaved(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Snapshots.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
