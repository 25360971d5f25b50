// Package metrics defines the service's Prometheus instruments in one
// place so every component shares the same registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Set struct {
	PaymentsInitiated *prometheus.CounterVec
	PollChecks        *prometheus.CounterVec
	AttemptOutcomes   *prometheus.CounterVec
	Recomputes        prometheus.Counter
	CallbacksIngested *prometheus.CounterVec
	GatewayLatency    *prometheus.HistogramVec
}

// New builds and registers the metric set. Pass
// prometheus.DefaultRegisterer in main; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		PaymentsInitiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_initiated_total",
				Help: "Push payment initiations by outcome.",
			},
			[]string{"outcome"},
		),
		PollChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_poll_checks_total",
				Help: "Status poll checks by classification.",
			},
			[]string{"result"},
		),
		AttemptOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_attempt_outcomes_total",
				Help: "Terminal payment attempt states.",
			},
			[]string{"state"},
		),
		Recomputes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "order_payment_recomputes_total",
				Help: "Order payment field recomputations.",
			},
		),
		CallbacksIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_callbacks_ingested_total",
				Help: "Gateway callback ingestions by outcome.",
			},
			[]string{"outcome"},
		),
		GatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Gateway round-trip duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(
		s.PaymentsInitiated,
		s.PollChecks,
		s.AttemptOutcomes,
		s.Recomputes,
		s.CallbacksIngested,
		s.GatewayLatency,
	)
	return s
}
