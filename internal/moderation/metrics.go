package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_classifier_calls_total",
	Help: "Number of classifier calls, by outcome",
}, []string{"outcome"})

var classifierDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "moderation_classifier_duration_seconds",
	Help:    "Time spent waiting on the content classifier",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
})

var breakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "moderation_classifier_breaker_state",
	Help: "Classifier circuit breaker state (0 closed, 1 half-open, 2 open)",
})

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_decisions_total",
	Help: "Number of moderation decisions, by action taken",
}, []string{"action"})
