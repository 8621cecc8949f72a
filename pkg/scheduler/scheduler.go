package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/pkg/account"
)

// PolicyTable resolves the {capacity, refill_per_second, burst} policy for
// a (platform, endpoint) pair, as configured by platform_rate_limits.
type PolicyTable map[string]BucketPolicy

func policyKey(platform account.Platform, endpoint string) string {
	return string(platform) + ":" + endpoint
}

func (t PolicyTable) Lookup(platform account.Platform, endpoint string) BucketPolicy {
	if p, ok := t[policyKey(platform, endpoint)]; ok {
		return p
	}
	return BucketPolicy{Capacity: 60, RefillPerSecond: 1, Burst: 10}
}

// Scheduler is the public Rate Limiter & Scheduler contract (§4.2).
type Scheduler struct {
	limiter    *TokenBucketLimiter
	fairshare  *FairShareDispatcher
	policies   PolicyTable
	logger     *slog.Logger
	metrics    Metrics
}

// Metrics is the narrow counter surface the scheduler records to.
type Metrics interface {
	IncAcquire(platform, outcome string)
	IncBreakerTransition(platform, state string)
}

func NewScheduler(limiter *TokenBucketLimiter, fairshare *FairShareDispatcher, policies PolicyTable, logger *slog.Logger, metrics Metrics) *Scheduler {
	return &Scheduler{limiter: limiter, fairshare: fairshare, policies: policies, logger: logger, metrics: metrics}
}

// Acquire attempts to consume one unit of rate-limit budget for
// (account, endpoint). Callers pass the account's platform so the
// right policy is applied.
func (s *Scheduler) Acquire(ctx context.Context, accountID uuid.UUID, platform account.Platform, endpoint string) (AcquireResult, error) {
	policy := s.policies.Lookup(platform, endpoint)
	result, err := s.limiter.TryAcquire(ctx, accountID, endpoint, 1, policy)
	outcome := "deny"
	if result.Allowed {
		outcome = "allow"
	}
	s.metrics.IncAcquire(string(platform), outcome)
	if err != nil {
		s.logger.Warn("rate limiter backing store unreachable, failing closed", "account_id", accountID, "endpoint", endpoint, "error", err)
		return result, err
	}
	return result, nil
}

// RecordOutcome feeds the circuit breaker for (account, endpoint). It
// records no breaker-transition metric: the limiter does not report the
// breaker's new state back to this call.
func (s *Scheduler) RecordOutcome(ctx context.Context, accountID uuid.UUID, platform account.Platform, endpoint string, outcome Outcome) error {
	return s.limiter.RecordOutcome(ctx, accountID, endpoint, outcome)
}

// PickNext chooses which of several accounts with pending work for a
// platform should dispatch next, per fair-share (§4.2).
func (s *Scheduler) PickNext(ctx context.Context, candidates []Candidate) (*Candidate, error) {
	return s.fairshare.PickNext(ctx, candidates)
}

// MarkDispatched must be called only after a dispatch has been confirmed
// to have actually reached the platform adapter successfully.
func (s *Scheduler) MarkDispatched(ctx context.Context, accountID uuid.UUID) error {
	return s.fairshare.MarkDispatched(ctx, accountID)
}

// PostingJitter returns a random delay in the configured jitter window,
// added to scheduled posting times to smooth bursts.
func PostingJitter(min, max time.Duration) (time.Duration, error) {
	return Jitter(min, max)
}
