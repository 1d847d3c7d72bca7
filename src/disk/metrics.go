package disk

import "github.com/prometheus/client_golang/prometheus"

type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	flushes   prometheus.Counter
	resident  prometheus.Gauge
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagestore",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		})
	}
	m := &cacheMetrics{
		hits:      counter("hits_total", "Page requests served from a resident page."),
		misses:    counter("misses_total", "Page requests that had to read the page from its file."),
		evictions: counter("evictions_total", "Clean pages dropped to make room."),
		flushes:   counter("flushes_total", "Dirty pages written back to their file."),
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagestore",
			Subsystem: "cache",
			Name:      "resident_pages",
			Help:      "Pages currently held in the cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.flushes, m.resident)
	}
	return m
}
