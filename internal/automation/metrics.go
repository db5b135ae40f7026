package automation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the automation engine.
type Metrics struct {
	EnrollmentsStarted   prometheus.Counter
	EnrollmentsCompleted prometheus.Counter
	EnrollmentsFailed    prometheus.Counter
	StepsExecuted        prometheus.Counter
	StepsSkipped         prometheus.Counter
	CronRunsFired        prometheus.Counter
	CronRunsMissed       prometheus.Counter
	TickDuration         prometheus.Histogram
}

// NewMetrics creates and registers engine metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		EnrollmentsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "enrollments_started_total",
			Help:      "Total workflow enrollments created by triggers.",
		}),
		EnrollmentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "enrollments_completed_total",
			Help:      "Total enrollments that finished their last step.",
		}),
		EnrollmentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "enrollments_failed_total",
			Help:      "Total enrollments aborted by a step error.",
		}),
		StepsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "steps_executed_total",
			Help:      "Total workflow steps executed.",
		}),
		StepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "steps_skipped_total",
			Help:      "Total steps skipped because they were outside the missed run window.",
		}),
		CronRunsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "cron_runs_fired_total",
			Help:      "Total cron triggered workflow runs.",
		}),
		CronRunsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "cron_runs_missed_total",
			Help:      "Total cron runs skipped because they were outside the missed run window.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "presshub",
			Subsystem: "automation",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each engine tick (poll + execute cycle).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.EnrollmentsStarted,
		m.EnrollmentsCompleted,
		m.EnrollmentsFailed,
		m.StepsExecuted,
		m.StepsSkipped,
		m.CronRunsFired,
		m.CronRunsMissed,
		m.TickDuration,
	)

	return m
}
