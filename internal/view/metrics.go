package view

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewsAttached = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livematch_views_attached",
		Help: "Match views currently attached",
	})

	pushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livematch_push_events_total",
		Help: "Push events handled by views, by event and result",
	}, []string{"event", "result"})

	alertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livematch_alerts_total",
		Help: "Milestone alerts raised, by kind",
	}, []string{"kind"})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livematch_write_failures_total",
		Help: "Backend writes that failed after retries, by field",
	}, []string{"field"})

	subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livematch_subscribers_dropped_total",
		Help: "Subscribers dropped for falling behind",
	})
)
