package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *TokenBucketLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewTokenBucketLimiter(rdb, 3, 10*time.Second, 2, 5*time.Minute, 5*time.Minute, 5*time.Second)
}

func TestTryAcquireWithinCapacity(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	accountID := uuid.New()
	policy := BucketPolicy{Capacity: 5, RefillPerSecond: 1, Burst: 1}

	for i := 0; i < 5; i++ {
		res, err := limiter.TryAcquire(ctx, accountID, "create_post", 1, policy)
		if err != nil {
			t.Fatalf("TryAcquire() error = %v", err)
		}
		if !res.Allowed {
			t.Fatalf("TryAcquire() call %d denied, want allowed", i)
		}
	}

	res, err := limiter.TryAcquire(ctx, accountID, "create_post", 1, policy)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if res.Allowed {
		t.Error("expected the 6th call to exhaust capacity and be denied")
	}
}

func TestTryAcquireIsolatedPerAccountAndEndpoint(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	policy := BucketPolicy{Capacity: 1, RefillPerSecond: 0, Burst: 1}

	acctA := uuid.New()
	acctB := uuid.New()

	if res, err := limiter.TryAcquire(ctx, acctA, "create_post", 1, policy); err != nil || !res.Allowed {
		t.Fatalf("first acquire for acctA: allowed=%v err=%v", res.Allowed, err)
	}
	// acctA is now exhausted; acctB's independent bucket should still allow.
	if res, err := limiter.TryAcquire(ctx, acctB, "create_post", 1, policy); err != nil || !res.Allowed {
		t.Fatalf("first acquire for acctB: allowed=%v err=%v", res.Allowed, err)
	}
	if res, _ := limiter.TryAcquire(ctx, acctA, "create_post", 1, policy); res.Allowed {
		t.Error("expected acctA's bucket to remain exhausted")
	}
	// A different endpoint of acctA has its own bucket and should still allow.
	if res, err := limiter.TryAcquire(ctx, acctA, "probe", 1, policy); err != nil || !res.Allowed {
		t.Errorf("first acquire for acctA's second endpoint: allowed=%v err=%v", res.Allowed, err)
	}
}

func TestRecordOutcomeOpensBreakerAfterThreshold(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	accountID := uuid.New()
	policy := BucketPolicy{Capacity: 100, RefillPerSecond: 10, Burst: 1}

	for i := 0; i < 3; i++ {
		if err := limiter.RecordOutcome(ctx, accountID, "create_post", OutcomeServerError); err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}

	res, err := limiter.TryAcquire(ctx, accountID, "create_post", 1, policy)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if res.Allowed {
		t.Error("expected the breaker to be open and deny acquisition after reaching the failure threshold")
	}
}

func TestRecordOutcomeClientErrorDoesNotFeedBreaker(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	accountID := uuid.New()
	policy := BucketPolicy{Capacity: 100, RefillPerSecond: 10, Burst: 1}

	for i := 0; i < 10; i++ {
		if err := limiter.RecordOutcome(ctx, accountID, "create_post", OutcomeClientError); err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
	}

	res, err := limiter.TryAcquire(ctx, accountID, "create_post", 1, policy)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !res.Allowed {
		t.Error("client_error outcomes should never trip the breaker")
	}
}

func TestRecordOutcomeSuccessResetsBreaker(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	accountID := uuid.New()
	policy := BucketPolicy{Capacity: 100, RefillPerSecond: 10, Burst: 1}

	for i := 0; i < 2; i++ {
		_ = limiter.RecordOutcome(ctx, accountID, "create_post", OutcomeServerError)
	}
	if err := limiter.RecordOutcome(ctx, accountID, "create_post", OutcomeSuccess); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}

	res, err := limiter.TryAcquire(ctx, accountID, "create_post", 1, policy)
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !res.Allowed {
		t.Error("a success outcome below threshold should keep the breaker closed")
	}
}
