// internal/service/fulfillment/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dispatch_units_total",
		Help: "Unit order dispatch attempts by outcome.",
	}, []string{"provider", "outcome"}) // outcome: accepted / rejected / unreachable

	dispatchOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dispatch_orders_total",
		Help: "Completed dispatch passes by aggregate order status.",
	}, []string{"status"})

	reconcileTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_reconcile_transitions_total",
		Help: "Order status transitions applied by the reconciler.",
	}, []string{"from", "to"})

	reconcileRedispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_reconcile_redispatch_total",
		Help: "Create calls re-issued by the reconciler for reference-less failed units.",
	}, []string{"provider", "outcome"}) // outcome: accepted / rejected / unreachable

	reconcileQueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_reconcile_query_errors_total",
		Help: "Provider status query failures during reconciliation sweeps.",
	}, []string{"provider"})

	compensationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_compensation_runs_total",
		Help: "Compensation records released by inventory kind.",
	}, []string{"kind"})
)
