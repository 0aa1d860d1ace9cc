package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	running   prometheus.Gauge
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics registers the scheduler collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "shortsq_scheduler_running",
			Help: "Work items currently executing",
		}),
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shortsq_scheduler_submitted_total",
			Help: "Submitted work items by admission outcome",
		}, []string{"outcome"}),
		completed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shortsq_scheduler_completed_total",
			Help: "Finished work items by result",
		}, []string{"result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shortsq_scheduler_item_duration_seconds",
			Help:    "Work item execution time",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
