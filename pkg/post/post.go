// Package post holds the Post entity: one publish intent, with exactly
// one adapter invocation lifecycle. State transitions form a DAG; no
// backward transitions are permitted (see CanTransitionTo).
package post

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// State is a Post's lifecycle state.
type State string

const (
	StateDraft           State = "draft"
	StateScheduled       State = "scheduled"
	StateDispatching     State = "dispatching"
	StateAwaitingRemote  State = "awaiting_remote"
	StatePublished       State = "published"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether state is immutable.
func (s State) Terminal() bool {
	switch s {
	case StatePublished, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the allowed forward edges of the state DAG. It is
// the single source of truth CanTransitionTo consults — no other code
// path may mutate Post.State without going through it.
var transitions = map[State]map[State]bool{
	StateDraft: {
		StateScheduled: true,
		StateCancelled: true,
	},
	StateScheduled: {
		StateDispatching: true,
		StateCancelled:   true,
	},
	StateDispatching: {
		StateAwaitingRemote: true,
		StateFailed:         true,
		StateScheduled:      true, // requeue with backoff
		StatePublished:      true, // dedupe short-circuit, adopting prior remote id
	},
	StateAwaitingRemote: {
		StatePublished: true,
		StateFailed:    true,
		StateCancelled: true,
	},
}

// CanTransitionTo reports whether the DAG permits from -> to.
func CanTransitionTo(from, to State) bool {
	if from.Terminal() {
		return false
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Post is one publish intent.
type Post struct {
	ID            uuid.UUID
	CreatorID     uuid.UUID
	AccountID     uuid.UUID
	Platform      string
	MediaRef      string
	Caption       string
	ContentHash   string
	DedupeKey     string
	State         State
	ScheduledAt   *time.Time
	AttemptCount  int
	LastErrorKind string
	LastError     string
	NextRetryAt   *time.Time
	RemoteID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ContentHash computes the immutable content_hash identity field from the
// exact bytes that will be published, so two submissions of the same
// media+caption collapse to the same dedupe key.
func ContentHash(mediaRef, caption string) string {
	sum := sha256.Sum256([]byte(mediaRef + "\x00" + caption))
	return hex.EncodeToString(sum[:])
}

// DedupeKey builds the (account_id, content_hash) dedupe key used to
// suppress duplicate publishes within the configured window.
func DedupeKey(accountID uuid.UUID, contentHash string) string {
	return accountID.String() + ":" + contentHash
}

// TransitionFields carries the side-effect fields a state transition sets
// alongside the new state. A zero-value field leaves the corresponding
// column untouched rather than overwriting it with an empty value.
type TransitionFields struct {
	LastErrorKind string
	LastError     string
	NextRetryAt   *time.Time
	RemoteID      string
}
