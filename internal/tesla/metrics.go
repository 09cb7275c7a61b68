package tesla

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiRequestCount = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "jarvis_tesla",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Upstream Owner API requests by endpoint and outcome.",
	},
	[]string{"endpoint", "code"},
)
