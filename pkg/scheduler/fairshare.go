package scheduler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Candidate is one account with pending work for a platform.
type Candidate struct {
	AccountID uuid.UUID
	Priority  float64 // weight; higher priority accounts are favored
}

const fairShareEndpoint = "dispatch"

// FairShareDispatcher picks the next eligible account among those with
// pending work for a platform, favoring whichever has gone longest since
// its last successful dispatch, weighted by priority. This guarantees no
// account can starve another through sheer submission volume.
//
// last_scheduled_at is updated only on confirmed dispatch success — the
// source code this is rewritten from updated it before confirming
// success, which under rapid retries under-serves slow accounts; this is
// the corrected behavior per the design notes.
type FairShareDispatcher struct {
	rdb *redis.Client
}

func NewFairShareDispatcher(rdb *redis.Client) *FairShareDispatcher {
	return &FairShareDispatcher{rdb: rdb}
}

// PickNext selects one candidate, or nil if candidates is empty.
func (d *FairShareDispatcher) PickNext(ctx context.Context, candidates []Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	now := time.Now()

	type scored struct {
		candidate Candidate
		score     float64
	}
	scores := make([]scored, 0, len(candidates))
	best := -1.0
	for _, c := range candidates {
		last, err := d.lastScheduledAt(ctx, c.AccountID)
		if err != nil {
			return nil, fmt.Errorf("reading last_scheduled_at: %w", err)
		}
		priority := c.Priority
		if priority <= 0 {
			priority = 1
		}
		elapsed := now.Sub(last).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		score := elapsed * priority
		scores = append(scores, scored{candidate: c, score: score})
		if score > best {
			best = score
		}
	}

	// Collect every candidate tied for the best score (within floating
	// point noise) and break the tie randomly.
	var tied []Candidate
	const epsilon = 1e-6
	for _, s := range scores {
		if best-s.score <= epsilon {
			tied = append(tied, s.candidate)
		}
	}

	idx, err := randomIndex(len(tied))
	if err != nil {
		return nil, err
	}
	chosen := tied[idx]
	return &chosen, nil
}

// MarkDispatched records a confirmed successful dispatch. Call this only
// after the adapter call has actually happened — never speculatively.
func (d *FairShareDispatcher) MarkDispatched(ctx context.Context, accountID uuid.UUID) error {
	key := bucketKey(accountID, fairShareEndpoint)
	now := time.Now().Unix()
	if err := d.rdb.HSet(ctx, key, "last_scheduled_at", now).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStoreUnreachable, err)
	}
	d.rdb.Expire(ctx, key, 30*24*time.Hour)
	return nil
}

func (d *FairShareDispatcher) lastScheduledAt(ctx context.Context, accountID uuid.UUID) (time.Time, error) {
	key := bucketKey(accountID, fairShareEndpoint)
	val, err := d.rdb.HGet(ctx, key, "last_scheduled_at").Result()
	if err == redis.Nil {
		return time.Unix(0, 0), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBackingStoreUnreachable, err)
	}
	var unix int64
	if _, err := fmt.Sscanf(val, "%d", &unix); err != nil {
		return time.Time{}, fmt.Errorf("parsing last_scheduled_at: %w", err)
	}
	return time.Unix(unix, 0), nil
}

func randomIndex(n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, fmt.Errorf("generating random tiebreak: %w", err)
	}
	return int(v.Int64()), nil
}

// Jitter returns a random duration in [min, max), used to smooth posting
// bursts and mimic human cadence (§4.2).
func Jitter(min, max time.Duration) (time.Duration, error) {
	if max <= min {
		return min, nil
	}
	span := int64(max - min)
	v, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, fmt.Errorf("generating jitter: %w", err)
	}
	return min + time.Duration(v.Int64()), nil
}
