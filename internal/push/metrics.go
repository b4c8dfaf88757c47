package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var envelopesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "livematch_push_envelopes_dropped_total",
	Help: "Push envelopes not handed to any view, by reason.",
}, []string{"reason"})
