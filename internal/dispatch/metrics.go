package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livematch_dispatch_queue_depth",
		Help: "Operations waiting for a dispatcher slot",
	})

	activeOps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livematch_dispatch_active_ops",
		Help: "Operations currently running against the backend",
	})

	completedOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livematch_dispatch_completed_total",
		Help: "Dispatched operations by result",
	}, []string{"result"})

	retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livematch_dispatch_rate_limit_retries_total",
		Help: "Retries triggered by a rate-limit response",
	})
)
