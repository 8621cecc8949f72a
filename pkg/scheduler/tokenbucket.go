package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBackingStoreUnreachable is returned when Redis can't be reached. The
// rate limiter is fail-closed for availability: callers must treat this as
// deny{retry_after: fail-closed default}, never as allow.
var ErrBackingStoreUnreachable = errors.New("scheduler: rate limit backing store unreachable")

func bucketKey(accountID uuid.UUID, endpoint string) string {
	return fmt.Sprintf("relaypost:bucket:{%s}:%s", accountID, endpoint)
}

// acquireScript performs the whole try_acquire algorithm from §4.2 as one
// atomic Lua script, so concurrent workers can never race the same
// (account, endpoint) bucket's decrement.
//
// KEYS[1] = bucket hash key
// ARGV: now_seconds, n, capacity, refill_per_second
//
// Returns: {allowed(0/1), retry_after_seconds, breaker_state}
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local refill_rate = tonumber(ARGV[4])

local h = redis.call('HMGET', key, 'tokens', 'last_refill_at', 'cooldown_until', 'breaker_state', 'probe_in_flight')
local tokens = tonumber(h[1])
local last_refill = tonumber(h[2])
local cooldown_until = tonumber(h[3]) or 0
local breaker_state = h[4] or 'closed'
local probe_in_flight = tonumber(h[5]) or 0

if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * refill_rate)
last_refill = now

if breaker_state == 'open' and now >= cooldown_until then
  breaker_state = 'half_open'
  probe_in_flight = 0
end

local allowed = 0
local retry_after = 0

if breaker_state == 'open' then
  allowed = 0
  retry_after = cooldown_until - now
elseif breaker_state == 'half_open' and probe_in_flight == 1 then
  allowed = 0
  retry_after = 1
elseif tokens >= n and now >= cooldown_until then
  tokens = tokens - n
  allowed = 1
  if breaker_state == 'half_open' then
    probe_in_flight = 1
  end
else
  allowed = 0
  local token_wait = 0
  if refill_rate > 0 then
    token_wait = (n - tokens) / refill_rate
  end
  local cooldown_wait = cooldown_until - now
  retry_after = math.max(token_wait, cooldown_wait)
end

redis.call('HMSET', key, 'tokens', tostring(tokens), 'last_refill_at', tostring(last_refill),
  'capacity', tostring(capacity), 'refill_per_second', tostring(refill_rate),
  'breaker_state', breaker_state, 'probe_in_flight', tostring(probe_in_flight))
redis.call('EXPIRE', key, 86400)

return {allowed, tostring(retry_after), breaker_state}
`)

// recordOutcomeScript updates the breaker's consecutive-failure counter and
// transitions state per §4.2: closed -> open on threshold, half_open ->
// closed on success or -> open (with increased backoff) on failure.
//
// KEYS[1] = bucket hash key
// ARGV: now_seconds, success(0/1), breaker_threshold, base_backoff_seconds,
//       backoff_multiplier, max_backoff_seconds
//
// Returns: new breaker_state
var recordOutcomeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local success = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local base_backoff = tonumber(ARGV[4])
local multiplier = tonumber(ARGV[5])
local max_backoff = tonumber(ARGV[6])

local h = redis.call('HMGET', key, 'breaker_state', 'consecutive_failures', 'backoff_exp')
local breaker_state = h[1] or 'closed'
local failures = tonumber(h[2]) or 0
local backoff_exp = tonumber(h[3]) or 0

local cooldown_until = 0

if success == 1 then
  failures = 0
  backoff_exp = 0
  breaker_state = 'closed'
else
  failures = failures + 1
  if breaker_state == 'half_open' then
    backoff_exp = backoff_exp + 1
    breaker_state = 'open'
  elseif failures >= threshold then
    breaker_state = 'open'
  end

  if breaker_state == 'open' then
    local capped_exp = backoff_exp
    if capped_exp > 10 then capped_exp = 10 end
    local backoff = base_backoff * math.pow(multiplier, capped_exp)
    if backoff > max_backoff then backoff = max_backoff end
    cooldown_until = now + backoff
  end
end

redis.call('HMSET', key, 'breaker_state', breaker_state, 'consecutive_failures', tostring(failures),
  'backoff_exp', tostring(backoff_exp), 'cooldown_until', tostring(cooldown_until), 'probe_in_flight', '0')
redis.call('EXPIRE', key, 86400)

return breaker_state
`)

// TokenBucketLimiter is the Redis-backed implementation of §4.2's token
// bucket + circuit breaker. All state mutation goes through the two Lua
// scripts above; application code never reads then writes the hash itself.
type TokenBucketLimiter struct {
	rdb                *redis.Client
	breakerThreshold   int
	baseBackoff        time.Duration
	backoffMultiplier  float64
	maxBackoff         time.Duration
	breakerTimeout     time.Duration
	failClosedRetryAfter time.Duration
}

func NewTokenBucketLimiter(rdb *redis.Client, breakerThreshold int, baseBackoff time.Duration, backoffMultiplier float64, maxBackoff, breakerTimeout, failClosedRetryAfter time.Duration) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rdb:                  rdb,
		breakerThreshold:     breakerThreshold,
		baseBackoff:          baseBackoff,
		backoffMultiplier:    backoffMultiplier,
		maxBackoff:           maxBackoff,
		breakerTimeout:       breakerTimeout,
		failClosedRetryAfter: failClosedRetryAfter,
	}
}

// TryAcquire runs the atomic acquire algorithm for one (account, endpoint).
// On any Redis error, it fails closed: deny with the configured
// fail-closed retry_after, never allow.
func (l *TokenBucketLimiter) TryAcquire(ctx context.Context, accountID uuid.UUID, endpoint string, n float64, policy BucketPolicy) (AcquireResult, error) {
	key := bucketKey(accountID, endpoint)
	now := float64(time.Now().UnixNano()) / 1e9

	res, err := acquireScript.Run(ctx, l.rdb, []string{key}, now, n, policy.Capacity, policy.RefillPerSecond).Result()
	if err != nil {
		return AcquireResult{Allowed: false, RetryAfter: l.failClosedRetryAfter}, fmt.Errorf("%w: %v", ErrBackingStoreUnreachable, err)
	}

	row, ok := res.([]interface{})
	if !ok || len(row) < 2 {
		return AcquireResult{Allowed: false, RetryAfter: l.failClosedRetryAfter}, fmt.Errorf("scheduler: unexpected acquire script result %v", res)
	}

	allowed, _ := toInt64(row[0])
	retrySeconds, _ := toFloat64(row[1])

	return AcquireResult{
		Allowed:    allowed == 1,
		RetryAfter: time.Duration(retrySeconds * float64(time.Second)),
	}, nil
}

// RecordOutcome feeds the circuit breaker: success resets the failure
// counter and closes the breaker; rate_limited/server_error increment it,
// opening the breaker past the threshold with exponential backoff.
// client_error does not feed the breaker (it isn't a platform health
// signal — the content itself was rejected).
func (l *TokenBucketLimiter) RecordOutcome(ctx context.Context, accountID uuid.UUID, endpoint string, outcome Outcome) error {
	if outcome == OutcomeClientError {
		return nil
	}
	key := bucketKey(accountID, endpoint)
	now := float64(time.Now().UnixNano()) / 1e9
	success := 0
	if outcome == OutcomeSuccess {
		success = 1
	}

	_, err := recordOutcomeScript.Run(ctx, l.rdb, []string{key}, now, success, l.breakerThreshold,
		l.baseBackoff.Seconds(), l.backoffMultiplier, l.maxBackoff.Seconds()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStoreUnreachable, err)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		var out int64
		_, err := fmt.Sscanf(n, "%d", &out)
		return out, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case string:
		var out float64
		_, err := fmt.Sscanf(n, "%f", &out)
		return out, err == nil
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
