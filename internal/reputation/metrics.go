package reputation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deltas = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reputation_deltas_total",
	Help: "Number of reputation deltas applied, by result",
}, []string{"result"})
