// Package metrics exposes Prometheus metrics for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts inbound commands and actions by kind.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailprobe",
			Subsystem: "bot",
			Name:      "commands_total",
			Help:      "Total number of inbound commands, text inputs, and actions by kind",
		},
		[]string{"kind"},
	)

	// ParseFailuresTotal counts configuration lines rejected as malformed.
	ParseFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailprobe",
			Subsystem: "bot",
			Name:      "parse_failures_total",
			Help:      "Total number of configuration lines rejected as malformed",
		},
	)

	// RateLimitedTotal counts operations rejected by the per-user limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailprobe",
			Subsystem: "bot",
			Name:      "rate_limited_total",
			Help:      "Total number of operations rejected by the per-user rate limiter",
		},
	)

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailprobe",
			Subsystem: "bot",
			Name:      "active_sessions",
			Help:      "Current number of live conversation sessions",
		},
	)
)

var (
	// BatchesTotal counts dispatched batches by result.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailprobe",
			Subsystem: "dispatch",
			Name:      "batches_total",
			Help:      "Total number of dispatched batches by result (ok, connection_error)",
		},
		[]string{"result"},
	)

	// EmailsTotal counts individual send attempts by outcome.
	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailprobe",
			Subsystem: "dispatch",
			Name:      "emails_total",
			Help:      "Total number of individual send attempts by outcome (sent, failed)",
		},
		[]string{"outcome"},
	)

	// BatchDuration measures wall time per batch in seconds.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailprobe",
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Wall time per dispatched batch in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)
