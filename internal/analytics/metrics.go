package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmr",
		Subsystem: "analytics",
		Name:      "cache_lookups_total",
		Help:      "Analytics cache lookups by cache and outcome.",
	}, []string{"cache", "result"})

	computations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmr",
		Subsystem: "analytics",
		Name:      "computations_total",
		Help:      "Analytics results computed, by engine and result.",
	}, []string{"engine", "result"})

	hydrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hmr",
		Subsystem: "analytics",
		Name:      "hydrations_total",
		Help:      "Background hydration runs by target and result.",
	}, []string{"target", "result"})
)
