package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ticks           prometheus.Counter
	reconciled      prometheus.Counter
	actuationErrors prometheus.Counter
	advances        prometheus.Counter
	overridesActive prometheus.Gauge
	tickDuration    prometheus.Histogram
}

func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		ticks: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: "climate_scheduler",
			Name:      "ticks_total",
			Help:      "Number of reconciliation passes",
		}),
		reconciled: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: "climate_scheduler",
			Name:      "reconciled_total",
			Help:      "Number of entities actuated by the scheduler",
		}),
		actuationErrors: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: "climate_scheduler",
			Name:      "actuation_errors_total",
			Help:      "Number of failed entity reconciliations",
		}),
		advances: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Namespace: "climate_scheduler",
			Name:      "advances_total",
			Help:      "Number of manual schedule advances",
		}),
		overridesActive: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Namespace: "climate_scheduler",
			Name:      "overrides_active",
			Help:      "Number of entities currently held by an override window",
		}),
		tickDuration: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Namespace: "climate_scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of reconciliation passes",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
