// Package metrics holds the Prometheus collectors for the auth subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pharma", Name: "auth_outcomes_total", Help: "Auth controller results by operation and outcome."},
		[]string{"op", "outcome"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pharma", Name: "rate_limit_rejected_total", Help: "Requests rejected by the rate limiter, by route."},
		[]string{"route"},
	)
	SweptRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pharma", Name: "swept_rows_total", Help: "Expired token rows removed by the sweep, by table."},
		[]string{"table"},
	)
)

// RegisterCollectors registers every collector with reg. Call once per registry.
func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(AuthOutcomes)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(SweptRows)
}

// ObserveAuth counts one controller result.
func ObserveAuth(op, outcome string) {
	AuthOutcomes.WithLabelValues(op, outcome).Inc()
}
