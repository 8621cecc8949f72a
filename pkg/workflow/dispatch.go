package workflow

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/internal/relayerr"
	"github.com/relaypost/relaypost/pkg/account"
	"github.com/relaypost/relaypost/pkg/post"
	"github.com/relaypost/relaypost/pkg/scheduler"
)

// RunDispatcher runs one platform's worker pool until ctx is cancelled.
// WorkerConcurrency goroutines each loop claiming the next due post,
// acquiring rate-limit headroom, and invoking the platform adapter —
// mirroring the teacher's one-goroutine-per-background-loop shape, scaled
// out to a fixed pool instead of a single ticker.
func (e *Engine) RunDispatcher(ctx context.Context, platform string) error {
	concurrency := e.cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			e.dispatchLoop(ctx, platform)
			done <- struct{}{}
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}
	return nil
}

func (e *Engine) dispatchLoop(ctx context.Context, platform string) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimed, err := e.ledger.ClaimNextScheduledPost(ctx, platform, time.Now())
			if err != nil {
				e.logger.Error("claiming scheduled post", "platform", platform, "error", err)
				continue
			}
			if claimed == nil {
				continue
			}
			e.dispatchOne(ctx, *claimed)
		}
	}
}

// dispatchOne runs the single-post dispatch activity: rate-limit
// acquisition, adapter invocation, and the resulting state transition.
func (e *Engine) dispatchOne(ctx context.Context, p post.Post) {
	acct, err := e.ledger.GetAccount(ctx, p.AccountID)
	if err != nil {
		e.logger.Error("loading account for dispatch", "post_id", p.ID, "error", err)
		e.retryOrFail(ctx, p, relayerr.New(relayerr.KindTransient, "loading account failed"))
		return
	}
	if !acct.CanPublish() {
		e.fail(ctx, p, relayerr.New(relayerr.KindAuthRevoked, "account is not active"))
		return
	}

	endpoint := "create_post"
	result, err := e.scheduler.Acquire(ctx, p.AccountID, account.Platform(p.Platform), endpoint)
	if err != nil {
		e.logger.Error("rate limit acquire failed", "post_id", p.ID, "error", err)
		e.requeue(ctx, p, 5*time.Second, "", "")
		return
	}
	if !result.Allowed {
		e.requeue(ctx, p, result.RetryAfter, "", "")
		return
	}

	adapter, err := e.adapters.Get(p.Platform)
	if err != nil {
		e.fail(ctx, p, relayerr.New(relayerr.KindPermanentPlatform, err.Error()))
		return
	}

	accessToken, err := e.tokens.Open(acct.AccessTokenEnc)
	if err != nil {
		e.fail(ctx, p, relayerr.Wrap(relayerr.KindIntegrity, "decrypting access token", err))
		return
	}

	// Recheck dedupe_key immediately before invoking the adapter: a prior
	// attempt may have published between this post's claim and now (worker
	// crash/retry producing a second row, or a narrow claim race). Adopting
	// the prior remote id here, rather than calling the adapter again, is
	// what makes publish at-most-once instead of best-effort.
	existing, err := e.ledger.FindDedupeMatch(ctx, p.AccountID, p.DedupeKey, e.cfg.DedupeWindow, time.Now())
	if err != nil {
		e.logger.Error("rechecking dedupe before dispatch", "post_id", p.ID, "error", err)
	} else if existing != nil && existing.ID != p.ID && existing.State == post.StatePublished {
		if terr := e.ledger.TransitionPost(ctx, p.ID, post.StatePublished, post.TransitionFields{RemoteID: existing.RemoteID}); terr != nil {
			e.logger.Error("adopting prior published post's remote id", "post_id", p.ID, "error", terr)
			return
		}
		e.metrics.IncDispatched(p.Platform, "deduped")
		e.metrics.IncTerminal(string(post.StatePublished))
		e.logger.Info("post deduped at dispatch, adopting prior remote id", "post_id", p.ID, "remote_id", existing.RemoteID)
		return
	}

	activityCtx, cancel := context.WithTimeout(ctx, e.cfg.ActivityTimeout)
	remoteID, err := adapter.CreatePost(activityCtx, accessToken, p.MediaRef, p.Caption)
	cancel()

	if err != nil {
		e.handleDispatchError(ctx, p, err)
		return
	}

	if err := e.scheduler.RecordOutcome(ctx, p.AccountID, account.Platform(p.Platform), endpoint, scheduler.OutcomeSuccess); err != nil {
		e.logger.Error("recording dispatch success outcome", "post_id", p.ID, "error", err)
	}
	if err := e.scheduler.MarkDispatched(ctx, p.AccountID); err != nil {
		e.logger.Error("marking fair-share dispatch", "post_id", p.ID, "error", err)
	}
	if err := e.ledger.CreateMapping(ctx, p.Platform, remoteID, p.ID, "remote_id"); err != nil {
		e.logger.Error("creating trusted mapping", "post_id", p.ID, "error", err)
	}
	if err := e.ledger.TransitionPost(ctx, p.ID, post.StateAwaitingRemote, post.TransitionFields{RemoteID: remoteID}); err != nil {
		e.logger.Error("transitioning post to awaiting_remote", "post_id", p.ID, "error", err)
		return
	}
	e.metrics.IncDispatched(p.Platform, "dispatched")
	e.logger.Info("post dispatched", "post_id", p.ID, "remote_id", remoteID)
	e.replayPendingSignals(ctx, p.ID)
}

// replayPendingSignals delivers any webhook signals that arrived before
// this post reached awaiting_remote (§4.5 Ordering) — buffered by
// SignalWebhook rather than dropped.
func (e *Engine) replayPendingSignals(ctx context.Context, postID uuid.UUID) {
	signals, err := e.ledger.TakePendingSignals(ctx, postID)
	if err != nil {
		e.logger.Error("loading buffered webhook signals", "post_id", postID, "error", err)
		return
	}
	for _, sig := range signals {
		if err := e.SignalWebhook(ctx, postID, sig.EventType, sig.Payload); err != nil {
			e.logger.Error("replaying buffered webhook signal", "post_id", postID, "error", err)
		}
	}
}

func (e *Engine) handleDispatchError(ctx context.Context, p post.Post, dispatchErr error) {
	relErr, ok := relayerr.As(dispatchErr)
	kind := relayerr.KindTransient
	if ok {
		kind = relErr.Kind
	}

	outcome := scheduler.OutcomeClientError
	switch kind {
	case relayerr.KindRateLimited:
		outcome = scheduler.OutcomeRateLimited
	case relayerr.KindTransient:
		outcome = scheduler.OutcomeServerError
	}
	if err := e.scheduler.RecordOutcome(ctx, p.AccountID, account.Platform(p.Platform), "create_post", outcome); err != nil {
		e.logger.Error("recording dispatch failure outcome", "post_id", p.ID, "error", err)
	}

	if kind == relayerr.KindAuthRevoked {
		if err := e.ledger.UpdateAccountState(ctx, p.AccountID, account.StateCooldown); err != nil {
			e.logger.Error("cooling down account after auth failure", "account_id", p.AccountID, "error", err)
		}
	}

	if kind.Retryable() && p.AttemptCount < e.cfg.MaxAttempts {
		backoff := e.backoffFor(p.AttemptCount)
		e.requeue(ctx, p, backoff, kind.String(), dispatchErr.Error())
		return
	}

	e.fail(ctx, p, dispatchErr)
}

// backoffFor computes an exponential backoff, BaseBackoff × 2^attempt,
// bounded only through MaxAttempts. No jitter is added to it, here or on
// the next claim.
func (e *Engine) backoffFor(attempt int) time.Duration {
	factor := math.Pow(2, float64(attempt))
	return time.Duration(float64(e.cfg.BaseBackoff) * factor)
}

func (e *Engine) requeue(ctx context.Context, p post.Post, delay time.Duration, errKind, errMsg string) {
	next := time.Now().Add(delay)
	fields := post.TransitionFields{NextRetryAt: &next, LastErrorKind: errKind, LastError: errMsg}
	if err := e.ledger.TransitionPost(ctx, p.ID, post.StateScheduled, fields); err != nil {
		e.logger.Error("requeuing post", "post_id", p.ID, "error", err)
	}
}

func (e *Engine) retryOrFail(ctx context.Context, p post.Post, err error) {
	relErr, ok := relayerr.As(err)
	if ok && relErr.Kind.Retryable() && p.AttemptCount < e.cfg.MaxAttempts {
		e.requeue(ctx, p, e.backoffFor(p.AttemptCount), relErr.Kind.String(), relErr.Error())
		return
	}
	e.fail(ctx, p, err)
}

func (e *Engine) fail(ctx context.Context, p post.Post, err error) {
	kind := relayerr.KindUnknown
	if relErr, ok := relayerr.As(err); ok {
		kind = relErr.Kind
	}
	fields := post.TransitionFields{LastErrorKind: kind.String(), LastError: err.Error()}
	if terr := e.ledger.TransitionPost(ctx, p.ID, post.StateFailed, fields); terr != nil {
		e.logger.Error("marking post failed", "post_id", p.ID, "error", terr)
		return
	}
	e.metrics.IncDispatched(p.Platform, "failed")
	e.metrics.IncTerminal(string(post.StateFailed))
	e.logger.Warn("post failed permanently", "post_id", p.ID, "reason", err)
}
