package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the generator's Prometheus metrics. It is also the driver's
// ActivityObserver.
type Metrics struct {
	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	Activities       *prometheus.CounterVec
	ActivityDuration *prometheus.HistogramVec
}

// make sure it implements ActivityObserver
var _ ActivityObserver = (*Metrics)(nil)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadgen_cycles_total",
				Help: "Number of call tree cycles run, by result",
			},
			[]string{"result"},
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loadgen_cycle_duration_seconds",
				Help:    "Wall-clock duration of one call tree cycle",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		Activities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadgen_activities_total",
				Help: "Number of activity executions, by activity and kind",
			},
			[]string{"activity", "kind"},
		),
		ActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadgen_activity_duration_seconds",
				Help:    "Wall-clock duration of each activity including its children",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"activity"},
		),
	}
}

func (m *Metrics) Observe(info ActivityInfo) {
	m.Activities.WithLabelValues(info.Name, info.Kind.String()).Inc()
	m.ActivityDuration.WithLabelValues(info.Name).Observe(info.End.Sub(info.Start).Seconds())
}

func (m *Metrics) ObserveCycle(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(d.Seconds())
}
