package webhookingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// ReconcileLedger is the extra surface the reconciler needs beyond Ledger:
// listing events stuck unroutable.
type ReconcileLedger interface {
	Ledger
	ListUnroutableEvents(ctx context.Context, limit int) ([]Event, error)
}

// Reconciler retries routing for webhook events that arrived before their
// TrustedMapping existed (§4.5 step 4: "a reconciler may attempt later
// routing"). Run on a low-frequency schedule (internal/app wires this to
// a cron job, not a tight poll loop).
//
// An event that still has no mapping past dlqMax reconciler passes is
// moved to dlq (spec.md:149's general "on repeated failure past retry
// cap, mark dlq" applies here too, not only to ingress's own
// signal-failure path).
type Reconciler struct {
	ledger    ReconcileLedger
	workflow  WorkflowSignaler
	logger    *slog.Logger
	metrics   Metrics
	batchSize int
	dlqMax    int
}

func NewReconciler(ledger ReconcileLedger, workflow WorkflowSignaler, logger *slog.Logger, metrics Metrics, dlqMaxRetries int) *Reconciler {
	return &Reconciler{ledger: ledger, workflow: workflow, logger: logger, metrics: metrics, batchSize: 100, dlqMax: dlqMaxRetries}
}

// Run attempts to route every currently-unroutable event once. An event
// whose payload still yields no mapping has its retry count incremented
// and, past dlqMax attempts, is moved to dlq instead of being left to
// retry forever.
func (r *Reconciler) Run(ctx context.Context, parseByProvider map[string]PayloadParser) (int, error) {
	events, err := r.ledger.ListUnroutableEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing unroutable webhook events: %w", err)
	}

	routed := 0
	for _, e := range events {
		parse, ok := parseByProvider[e.Provider]
		if !ok {
			continue
		}
		parsed, err := parse(e.Payload)
		if err != nil {
			r.logger.Warn("reconciler: re-parsing unroutable event failed", "provider", e.Provider, "event_id", e.EventID, "error", err)
			r.bumpRetryOrDLQ(ctx, e)
			continue
		}
		mapping, err := r.ledger.LookupMapping(ctx, e.Provider, parsed.PlatformID)
		if err != nil {
			r.bumpRetryOrDLQ(ctx, e)
			continue
		}
		if err := r.workflow.SignalWebhook(ctx, mapping.PostID, parsed.EventType, json.RawMessage(e.Payload)); err != nil {
			r.logger.Warn("reconciler: signaling workflow failed", "post_id", mapping.PostID, "error", err)
			r.bumpRetryOrDLQ(ctx, e)
			continue
		}
		if err := r.ledger.UpdateEventStatus(ctx, e.Provider, e.EventID, StatusCompleted); err != nil {
			r.logger.Error("reconciler: marking event completed", "error", err)
			continue
		}
		routed++
	}
	return routed, nil
}

// bumpRetryOrDLQ increments an unroutable event's retry count and, once it
// reaches dlqMax, transitions the event to dlq so it stops consuming
// reconciler passes indefinitely.
func (r *Reconciler) bumpRetryOrDLQ(ctx context.Context, e Event) {
	retryCount, err := r.ledger.IncrementEventRetry(ctx, e.Provider, e.EventID)
	if err != nil {
		r.logger.Error("reconciler: incrementing webhook retry count", "provider", e.Provider, "event_id", e.EventID, "error", err)
		return
	}
	if retryCount < r.dlqMax {
		return
	}
	if err := r.ledger.UpdateEventStatus(ctx, e.Provider, e.EventID, StatusDLQ); err != nil {
		r.logger.Error("reconciler: moving webhook event to dlq", "provider", e.Provider, "event_id", e.EventID, "error", err)
		return
	}
	if r.metrics != nil {
		r.metrics.IncEvent(e.Provider, "dlq")
	}
}
