package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency for the webhook/admin
// surface. Shared across the whole process.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "relaypost",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// PostsDispatchedTotal counts dispatch results, labeled by platform and
// outcome (dispatched, deduped, failed).
var PostsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "workflow",
		Name:      "posts_dispatched_total",
		Help:      "Post dispatch results by platform and outcome.",
	},
	[]string{"platform", "outcome"},
)

// PostsTerminalTotal counts workflow completions by terminal state.
var PostsTerminalTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "workflow",
		Name:      "posts_terminal_total",
		Help:      "Posts reaching a terminal state, by state.",
	},
	[]string{"state"},
)

// RateLimitAcquireTotal counts token bucket acquire outcomes.
var RateLimitAcquireTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "scheduler",
		Name:      "acquire_total",
		Help:      "Token bucket acquire attempts by outcome (allow, deny).",
	},
	[]string{"platform", "outcome"},
)

// BreakerStateChangesTotal counts circuit breaker transitions.
var BreakerStateChangesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "scheduler",
		Name:      "breaker_state_changes_total",
		Help:      "Circuit breaker state transitions by platform and new state.",
	},
	[]string{"platform", "state"},
)

// BudgetReservationsTotal counts budget reservation outcomes.
var BudgetReservationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "budget",
		Name:      "reservations_total",
		Help:      "Budget reservation attempts by outcome (held, denied).",
	},
	[]string{"outcome"},
)

// WebhookEventsTotal counts inbound webhook events by provider and outcome.
var WebhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook events by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// WebhookSignatureFailuresTotal is the security metric for silently
// dropped signature failures (§4.5 response policy).
var WebhookSignatureFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "relaypost",
		Subsystem: "webhook",
		Name:      "signature_failures_total",
		Help:      "Webhook requests dropped for signature/replay failures.",
	},
	[]string{"provider", "reason"},
)

// All returns the service-specific collectors to register alongside the
// shared HTTP histogram and the Go/process collectors.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PostsDispatchedTotal,
		PostsTerminalTotal,
		RateLimitAcquireTotal,
		BreakerStateChangesTotal,
		BudgetReservationsTotal,
		WebhookEventsTotal,
		WebhookSignatureFailuresTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTP histogram, and any extra collectors.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
