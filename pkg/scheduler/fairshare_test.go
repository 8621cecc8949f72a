package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestDispatcher(t *testing.T) *FairShareDispatcher {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewFairShareDispatcher(rdb)
}

func TestPickNextFavorsLongestWaiting(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	recent := uuid.New()
	stale := uuid.New()

	if err := d.MarkDispatched(ctx, recent); err != nil {
		t.Fatalf("MarkDispatched() error = %v", err)
	}
	// stale has never been dispatched, so its last_scheduled_at defaults to
	// the epoch and it should always win over something just dispatched.

	candidates := []Candidate{{AccountID: recent, Priority: 1}, {AccountID: stale, Priority: 1}}
	chosen, err := d.PickNext(ctx, candidates)
	if err != nil {
		t.Fatalf("PickNext() error = %v", err)
	}
	if chosen == nil {
		t.Fatal("PickNext() returned nil, want a candidate")
	}
	if chosen.AccountID != stale {
		t.Errorf("PickNext() chose %s, want %s (the longest-waiting account)", chosen.AccountID, stale)
	}
}

func TestPickNextEmptyCandidates(t *testing.T) {
	d := newTestDispatcher(t)
	chosen, err := d.PickNext(context.Background(), nil)
	if err != nil {
		t.Fatalf("PickNext() error = %v", err)
	}
	if chosen != nil {
		t.Errorf("PickNext() = %v, want nil for empty candidates", chosen)
	}
}

func TestPickNextHigherPriorityWinsAtEqualWait(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	low := uuid.New()
	high := uuid.New()

	now := time.Now().Unix()
	for _, id := range []uuid.UUID{low, high} {
		key := bucketKey(id, fairShareEndpoint)
		if err := d.rdb.HSet(ctx, key, "last_scheduled_at", now-3600).Err(); err != nil {
			t.Fatalf("seeding last_scheduled_at: %v", err)
		}
	}

	candidates := []Candidate{
		{AccountID: low, Priority: 1},
		{AccountID: high, Priority: 5},
	}
	chosen, err := d.PickNext(ctx, candidates)
	if err != nil {
		t.Fatalf("PickNext() error = %v", err)
	}
	if chosen == nil || chosen.AccountID != high {
		t.Errorf("PickNext() = %v, want the higher-priority account %s", chosen, high)
	}
}

func TestMarkDispatchedUpdatesLastScheduledAt(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	accountID := uuid.New()

	before, err := d.lastScheduledAt(ctx, accountID)
	if err != nil {
		t.Fatalf("lastScheduledAt() error = %v", err)
	}
	if !before.Equal(time.Unix(0, 0)) {
		t.Fatalf("expected a never-dispatched account to default to the epoch, got %v", before)
	}

	if err := d.MarkDispatched(ctx, accountID); err != nil {
		t.Fatalf("MarkDispatched() error = %v", err)
	}

	after, err := d.lastScheduledAt(ctx, accountID)
	if err != nil {
		t.Fatalf("lastScheduledAt() error = %v", err)
	}
	if !after.After(before) {
		t.Errorf("expected last_scheduled_at to advance past the epoch after MarkDispatched, got %v", after)
	}
}

func TestJitterWithinBounds(t *testing.T) {
	min := 1 * time.Second
	max := 5 * time.Second
	for i := 0; i < 20; i++ {
		got, err := Jitter(min, max)
		if err != nil {
			t.Fatalf("Jitter() error = %v", err)
		}
		if got < min || got >= max {
			t.Errorf("Jitter() = %v, want in [%v, %v)", got, min, max)
		}
	}
}

func TestJitterDegenerateRange(t *testing.T) {
	got, err := Jitter(2*time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("Jitter() error = %v", err)
	}
	if got != 2*time.Second {
		t.Errorf("Jitter(min, min) = %v, want %v", got, 2*time.Second)
	}
}
