// Package metrics exposes Prometheus instrumentation for the pipeline:
// queue depth per stage, step execution latency, and retry counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gauges/counters/histograms the engine updates as
// messages move through its stages.
type Metrics struct {
	QueueDepth     *prometheus.GaugeVec
	StepLatency    *prometheus.HistogramVec
	RetriesTotal   *prometheus.CounterVec
	StepsTotal     *prometheus.CounterVec
	ArmedInstances prometheus.Gauge
}

// New registers the engine's metrics with reg. Pass prometheus.DefaultRegisterer
// to expose them on the default /metrics handler, or a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arcflow",
			Name:      "queue_depth",
			Help:      "Number of messages currently buffered on a queue, by kind.",
		}, []string{"kind"}),
		StepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arcflow",
			Name:      "step_latency_seconds",
			Help:      "Step body execution duration, by outcome.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"outcome"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcflow",
			Name:      "retries_total",
			Help:      "Cumulative count of step retries.",
		}, []string{"workflow"}),
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcflow",
			Name:      "steps_total",
			Help:      "Cumulative count of steps reaching a terminal outcome.",
		}, []string{"outcome"}),
		ArmedInstances: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "arcflow",
			Name:      "rendezvous_armed_instances",
			Help:      "Number of instances currently parked awaiting an event.",
		}),
	}
}
