package post

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"draft to scheduled", StateDraft, StateScheduled, true},
		{"draft to cancelled", StateDraft, StateCancelled, true},
		{"draft to dispatching", StateDraft, StateDispatching, false},
		{"scheduled to dispatching", StateScheduled, StateDispatching, true},
		{"dispatching to awaiting_remote", StateDispatching, StateAwaitingRemote, true},
		{"dispatching to published (dedupe adopt)", StateDispatching, StatePublished, true},
		{"dispatching to scheduled (requeue)", StateDispatching, StateScheduled, true},
		{"awaiting_remote to published", StateAwaitingRemote, StatePublished, true},
		{"awaiting_remote to failed", StateAwaitingRemote, StateFailed, true},
		{"published is terminal", StatePublished, StateScheduled, false},
		{"failed is terminal", StateFailed, StateScheduled, false},
		{"cancelled is terminal", StateCancelled, StateScheduled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransitionTo(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := []State{StatePublished, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	nonTerminal := []State{StateDraft, StateScheduled, StateDispatching, StateAwaitingRemote}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash("media-1", "hello")
	b := ContentHash("media-1", "hello")
	if a != b {
		t.Errorf("ContentHash should be deterministic, got %q and %q", a, b)
	}
}

func TestContentHashDistinguishesMediaFromCaption(t *testing.T) {
	// Without a separator, "ab"+"" and "a"+"b" would collide.
	a := ContentHash("ab", "")
	b := ContentHash("a", "b")
	if a == b {
		t.Error("ContentHash should not collide across the media_ref/caption boundary")
	}
}

func TestDedupeKeyScopedPerAccount(t *testing.T) {
	hash := ContentHash("media", "caption")
	acctA := uuid.New()
	acctB := uuid.New()

	keyA := DedupeKey(acctA, hash)
	keyB := DedupeKey(acctB, hash)
	if keyA == keyB {
		t.Error("DedupeKey should differ across accounts for the same content hash")
	}

	again := DedupeKey(acctA, hash)
	if keyA != again {
		t.Error("DedupeKey should be deterministic for the same inputs")
	}
}
