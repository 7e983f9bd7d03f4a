package backends

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmr",
		Subsystem: "backend",
		Name:      "fetches_total",
		Help:      "Category fetches by backend and result (hit, refreshed, stale, unavailable).",
	}, []string{"backend", "result"})

	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmr",
		Subsystem: "backend",
		Name:      "downloads_total",
		Help:      "Remote document downloads by source and result.",
	}, []string{"source", "result"})

	invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmr",
		Subsystem: "backend",
		Name:      "invalidations_total",
		Help:      "Categories marked stale, by backend.",
	}, []string{"backend"})

	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hmr",
		Subsystem: "backend",
		Name:      "cache_entries",
		Help:      "Cached category documents, by backend.",
	}, []string{"backend"})
)
