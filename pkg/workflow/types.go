// Package workflow is the Workflow Engine (§4.4): the durable state
// machine driving a Post from draft through to a terminal state, with
// retries, signals, and at-most-once publish semantics.
package workflow

import (
	"encoding/json"
	"time"
)

// PendingSignal is a webhook signal that arrived before its post reached
// awaiting_remote, buffered for replay once it does (§4.5 Ordering).
type PendingSignal struct {
	EventType string
	Payload   json.RawMessage
}

// SignalType is the kind of external event that can be delivered to a
// running workflow instance.
type SignalType string

const (
	SignalCancel            SignalType = "cancel"
	SignalWebhook           SignalType = "webhook"
	SignalRefreshTokenReady SignalType = "refresh_token_ready"
)

// SubmitRequest is the public submit(creator, account, media_ref, caption,
// scheduled_at) request (§4.4).
type SubmitRequest struct {
	AccountID   string
	Platform    string
	MediaRef    string
	Caption     string
	ScheduledAt *time.Time // nil means "dispatch as soon as claimed"
}

// Config holds the Workflow Engine's tunables, sourced from
// internal/config.SchedulerConfig.
type Config struct {
	WorkerConcurrency   int
	WorkflowConcurrency int
	MaxAttempts         int
	BaseBackoff         time.Duration
	DedupeWindow        time.Duration
	ActivityTimeout     time.Duration
	WorkflowTimeout     time.Duration
	PollInterval        time.Duration
	PollTimeout         time.Duration
	PostingJitterMin    time.Duration
	PostingJitterMax    time.Duration
}
