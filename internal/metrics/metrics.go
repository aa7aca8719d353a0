package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring grant negotiation and payment cycles
var (
	GrantsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stokvel_grants_requested_total",
		Help: "The total number of grant requests sent to authorization servers",
	}, []string{"kind", "interactive"})

	GrantsContinued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stokvel_grants_continued_total",
		Help: "The total number of grant continuations by outcome",
	}, []string{"status"})

	TokenRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stokvel_token_rotations_total",
		Help: "The total number of access token rotations by outcome",
	}, []string{"status"})

	Quotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stokvel_quotes_total",
		Help: "The total number of quotes requested by outcome",
	}, []string{"status"})

	PaymentCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stokvel_payment_cycles_total",
		Help: "The total number of payment cycles by outcome",
	}, []string{"status"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stokvel_cycle_duration_seconds",
		Help:    "Time taken to run one payment cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms doubling up to ~25s
	})
)

// Status renders an outcome label.
func Status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
