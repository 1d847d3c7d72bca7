package lock

import "github.com/prometheus/client_golang/prometheus"

type lockMetrics struct {
	waits     prometheus.Counter
	deadlocks prometheus.Counter
}

func newLockMetrics(reg prometheus.Registerer) *lockMetrics {
	m := &lockMetrics{
		waits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagestore",
			Subsystem: "lock",
			Name:      "waits_total",
			Help:      "Lock requests that could not be granted immediately.",
		}),
		deadlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagestore",
			Subsystem: "lock",
			Name:      "deadlocks_total",
			Help:      "Lock requests refused because the requester was part of a wait-for cycle.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.waits, m.deadlocks)
	}
	return m
}
