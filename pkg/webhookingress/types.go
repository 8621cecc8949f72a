// Package webhookingress verifies, deduplicates, and routes asynchronous
// callbacks from platforms into workflow signals, without duplicating
// effect and without leaking signature-validity information to probes.
package webhookingress

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus is a WebhookEvent's lifecycle.
type ProcessingStatus string

const (
	StatusReceived   ProcessingStatus = "received"
	StatusProcessing ProcessingStatus = "processing"
	StatusUnroutable ProcessingStatus = "unroutable"
	StatusCompleted  ProcessingStatus = "completed"
	StatusDLQ        ProcessingStatus = "dlq"
)

// Event is the immutable-once-stored WebhookEvent entity.
type Event struct {
	Provider          string
	EventID           string
	EventType         string
	Payload           json.RawMessage
	SignatureVerified bool
	ProcessingStatus  ProcessingStatus
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
	RetryCount        int
}

// UpsertOutcome reports whether upsert_webhook_event created a new row or
// found an existing one for the (provider, event_id) key.
type UpsertOutcome string

const (
	Created   UpsertOutcome = "created"
	Duplicate UpsertOutcome = "duplicate"
)

// InboundRequest is the raw material the ingress pipeline verifies: the
// exact bytes received (re-serialization would break the signature) plus
// the provider-specific signature/timestamp headers.
type InboundRequest struct {
	Provider        string
	RawBody         []byte
	SignatureHeader string
	TimestampHeader string // empty if the provider doesn't use one
}

// Mapping is the TrustedMapping entity used to route a webhook to the
// Post it concerns.
type Mapping struct {
	Provider   string
	PlatformID string
	PostID     uuid.UUID
	Kind       string
}
