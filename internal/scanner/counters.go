package scanner

import "github.com/prometheus/client_golang/prometheus"

// Counters is the in-process "counter bag" attached to each pass:
// bookkeeping of fetches, retries, re-enqueues, and dead-letter aborts.
// Scraped only in-process; no /metrics HTTP endpoint is exposed.
type Counters struct {
	Fetches     *prometheus.CounterVec
	Retries     *prometheus.CounterVec
	Reenqueues  *prometheus.CounterVec
	DeadLetters *prometheus.CounterVec
	NodesTotal  prometheus.Gauge
}

// NewCounters registers a fresh counter set against reg. Each Scanner run
// gets its own registry so repeated runs in the same process (as in tests)
// don't collide on metric names.
func NewCounters(reg *prometheus.Registry) *Counters {
	c := &Counters{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcsweep",
			Subsystem: "scanner",
			Name:      "fetches_total",
			Help:      "Object store fetches issued during a scan pass.",
		}, []string{"pass"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcsweep",
			Subsystem: "scanner",
			Name:      "retries_total",
			Help:      "Per-item retries issued during a scan pass.",
		}, []string{"pass"}),
		Reenqueues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcsweep",
			Subsystem: "scanner",
			Name:      "reenqueues_total",
			Help:      "Work items re-enqueued after a failure.",
		}, []string{"pass"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcsweep",
			Subsystem: "scanner",
			Name:      "dead_letters_total",
			Help:      "Work items abandoned after exceeding the dead-letter limit.",
		}, []string{"pass"}),
		NodesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gcsweep",
			Subsystem: "scanner",
			Name:      "nodes_total",
			Help:      "Graph nodes present when the most recent scan completed.",
		}),
	}
	reg.MustRegister(c.Fetches, c.Retries, c.Reenqueues, c.DeadLetters, c.NodesTotal)
	return c
}
