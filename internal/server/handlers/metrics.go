package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var operations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hmr",
	Subsystem: "api",
	Name:      "operations_total",
	Help:      "Reference API operations by operation and result.",
}, []string{"operation", "result"})

func countOperation(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	operations.WithLabelValues(op, result).Inc()
}

// NewMetricsHandler serves the default Prometheus registry.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}
