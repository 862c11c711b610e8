package rescan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rescan_runs_total",
	Help: "Number of rescan runs, by result",
}, []string{"result"})

var itemOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rescan_items_total",
	Help: "Number of theories processed by rescan, by outcome",
}, []string{"outcome"})

var runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "rescan_run_duration_seconds",
	Help:    "Duration of completed rescan runs",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})
