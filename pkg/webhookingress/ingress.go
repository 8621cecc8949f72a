package webhookingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Ledger is the slice of the Ledger Store the ingress pipeline depends on.
type Ledger interface {
	// UpsertWebhookEvent has a unique key on (provider, event_id); the
	// second call for the same key returns Duplicate without side effects.
	UpsertWebhookEvent(ctx context.Context, e Event) (UpsertOutcome, error)
	UpdateEventStatus(ctx context.Context, provider, eventID string, status ProcessingStatus) error
	IncrementEventRetry(ctx context.Context, provider, eventID string) (retryCount int, err error)
	LookupMapping(ctx context.Context, provider, platformID string) (Mapping, error)
}

// WorkflowSignaler delivers a webhook event to the workflow instance for
// the Post it concerns.
type WorkflowSignaler interface {
	SignalWebhook(ctx context.Context, postID uuid.UUID, eventType string, payload json.RawMessage) error
}

// Metrics is the narrow counter surface the ingress pipeline records to.
type Metrics interface {
	IncEvent(provider, outcome string)
	IncSignatureFailure(provider, reason string)
}

// Providers resolves verification config and platform-id extraction per
// provider.
type Providers map[string]ProviderConfig

// Ingress is the Webhook Ingress component (§4.5).
type Ingress struct {
	ledger    Ledger
	workflow  WorkflowSignaler
	providers Providers
	tolerance time.Duration
	dlqMax    int
	logger    *slog.Logger
	metrics   Metrics
}

func NewIngress(ledger Ledger, workflow WorkflowSignaler, providers Providers, tolerance time.Duration, dlqMaxRetries int, logger *slog.Logger, metrics Metrics) *Ingress {
	return &Ingress{
		ledger:    ledger,
		workflow:  workflow,
		providers: providers,
		tolerance: tolerance,
		dlqMax:    dlqMaxRetries,
		logger:    logger,
		metrics:   metrics,
	}
}

// ParsedPayload is the minimal shape every provider payload must expose so
// the ingress pipeline can route and dispatch it without understanding
// provider-specific schemas.
type ParsedPayload struct {
	EventID    string
	EventType  string
	PlatformID string // the remote id used to look up the TrustedMapping
}

// PayloadParser extracts the routing fields from a provider's raw body.
// Registered per provider by the caller (internal/app wiring).
type PayloadParser func(body []byte) (ParsedPayload, error)

// Handle runs the full per-request pipeline from §4.5. It always succeeds
// from the HTTP layer's point of view (§4.5 response policy) — the
// returned error is for logging only, never for choosing a non-200
// response, except ErrMalformed which the caller maps to 4xx.
func (ing *Ingress) Handle(ctx context.Context, req InboundRequest, parse PayloadParser) error {
	now := time.Now()

	parsed, err := parse(req.RawBody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	cfg, ok := ing.providers[req.Provider]
	if !ok {
		ing.metrics.IncSignatureFailure(req.Provider, "unknown_provider")
		return nil // silent drop, no provider configured
	}

	verify := Verify(cfg, req, ing.tolerance, now)
	if !verify.Verified {
		ing.metrics.IncSignatureFailure(req.Provider, verify.Reason)
		ing.logger.Warn("webhook signature/replay check failed", "provider", req.Provider, "reason", verify.Reason)
		return nil // silent 200 — never leak validity info to probes
	}

	outcome, err := ing.ledger.UpsertWebhookEvent(ctx, Event{
		Provider:          req.Provider,
		EventID:           parsed.EventID,
		EventType:         parsed.EventType,
		Payload:           json.RawMessage(req.RawBody),
		SignatureVerified: true,
		ProcessingStatus:  StatusReceived,
		ReceivedAt:        now,
	})
	if err != nil {
		return fmt.Errorf("upserting webhook event: %w", err)
	}
	if outcome == Duplicate {
		ing.metrics.IncEvent(req.Provider, "duplicate")
		return nil
	}
	ing.metrics.IncEvent(req.Provider, "received")

	mapping, err := ing.ledger.LookupMapping(ctx, req.Provider, parsed.PlatformID)
	if err != nil {
		if err := ing.ledger.UpdateEventStatus(ctx, req.Provider, parsed.EventID, StatusUnroutable); err != nil {
			ing.logger.Error("marking webhook event unroutable", "error", err)
		}
		ing.metrics.IncEvent(req.Provider, "unroutable")
		return nil
	}

	if err := ing.ledger.UpdateEventStatus(ctx, req.Provider, parsed.EventID, StatusProcessing); err != nil {
		ing.logger.Error("marking webhook event processing", "error", err)
	}

	if err := ing.workflow.SignalWebhook(ctx, mapping.PostID, parsed.EventType, json.RawMessage(req.RawBody)); err != nil {
		retryCount, incErr := ing.ledger.IncrementEventRetry(ctx, req.Provider, parsed.EventID)
		if incErr != nil {
			ing.logger.Error("incrementing webhook retry count", "error", incErr)
		}
		if retryCount >= ing.dlqMax {
			if err := ing.ledger.UpdateEventStatus(ctx, req.Provider, parsed.EventID, StatusDLQ); err != nil {
				ing.logger.Error("moving webhook event to dlq", "error", err)
			}
			ing.metrics.IncEvent(req.Provider, "dlq")
			return nil
		}
		ing.logger.Warn("signaling workflow failed, will retry", "post_id", mapping.PostID, "error", err)
		return nil
	}

	if err := ing.ledger.UpdateEventStatus(ctx, req.Provider, parsed.EventID, StatusCompleted); err != nil {
		ing.logger.Error("marking webhook event completed", "error", err)
	}
	ing.metrics.IncEvent(req.Provider, "completed")
	return nil
}

// ErrMalformed marks requests whose body couldn't be parsed at all — the
// only case the ingress pipeline reports as non-200 (§4.5).
var ErrMalformed = fmt.Errorf("webhookingress: malformed request body")
