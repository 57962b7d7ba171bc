package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal counts dispatches per addressee type and aggregate status.
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatch_total",
			Help: "Total number of notification dispatches",
		},
		[]string{"addressee", "status"},
	)

	// dispatchTargetsTotal counts per-target outcomes.
	dispatchTargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatch_targets_total",
			Help: "Total number of per-target delivery outcomes",
		},
		[]string{"result"}, // success|failure
	)

	// providerErrorsTotal counts whole-call provider rejections.
	providerErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dispatch_provider_errors_total",
			Help: "Total number of rejected multicast calls",
		},
	)
)
