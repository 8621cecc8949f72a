package telemetry

// SchedulerMetrics adapts the package-level Prometheus vectors to the
// narrow interface pkg/scheduler depends on.
type SchedulerMetrics struct{}

func (SchedulerMetrics) IncAcquire(platform, outcome string) {
	RateLimitAcquireTotal.WithLabelValues(platform, outcome).Inc()
}

func (SchedulerMetrics) IncBreakerTransition(platform, state string) {
	BreakerStateChangesTotal.WithLabelValues(platform, state).Inc()
}

// BudgetMetrics adapts the package-level Prometheus vectors to the narrow
// interface pkg/budget depends on.
type BudgetMetrics struct{}

func (BudgetMetrics) IncReservation(outcome string) {
	BudgetReservationsTotal.WithLabelValues(outcome).Inc()
}

// WebhookMetrics adapts the package-level Prometheus vectors to the
// narrow interface pkg/webhookingress depends on.
type WebhookMetrics struct{}

func (WebhookMetrics) IncEvent(provider, outcome string) {
	WebhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

func (WebhookMetrics) IncSignatureFailure(provider, reason string) {
	WebhookSignatureFailuresTotal.WithLabelValues(provider, reason).Inc()
}

// WorkflowMetrics adapts the package-level Prometheus vectors to the
// narrow interface pkg/workflow depends on.
type WorkflowMetrics struct{}

func (WorkflowMetrics) IncDispatched(platform, outcome string) {
	PostsDispatchedTotal.WithLabelValues(platform, outcome).Inc()
}

func (WorkflowMetrics) IncTerminal(state string) {
	PostsTerminalTotal.WithLabelValues(state).Inc()
}
