package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the page cache.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Sets          prometheus.Counter
	Evictions     prometheus.Counter
	Invalidations prometheus.Counter
}

// NewMetrics creates and registers cache metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total page cache hits.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total page cache misses.",
		}),
		Sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Total entries written to the page cache.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total entries evicted to stay within capacity.",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "presshub",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total entries removed by tag invalidation.",
		}),
	}

	reg.MustRegister(
		m.Hits,
		m.Misses,
		m.Sets,
		m.Evictions,
		m.Invalidations,
	)

	return m
}
