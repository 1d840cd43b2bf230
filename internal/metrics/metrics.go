// Package metrics содержит метрики Prometheus сервиса эскроу.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EscrowReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_releases_total",
		Help: "Escrow release attempts by outcome",
	}, []string{"outcome"})

	EscrowReleasedKoboTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_released_kobo_total",
		Help: "Total amount released from escrow to vendor wallets, in kobo",
	})

	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_sweep_runs_total",
		Help: "Escrow sweep invocations by result",
	}, []string{"result"})

	SweepOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_sweep_orders_total",
		Help: "Orders handled by escrow sweeps",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_sweep_duration_seconds",
		Help:    "Duration of escrow sweep invocations",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
