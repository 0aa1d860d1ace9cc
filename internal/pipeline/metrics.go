package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"shortsq/internal/domain"
)

type Metrics struct {
	stages *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		stages: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shortsq_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage execution time by stage and result",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage", "result"}),
	}
}

func (m *Metrics) observe(stage domain.Stage, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stages.WithLabelValues(stage.String(), result).Observe(time.Since(started).Seconds())
}
