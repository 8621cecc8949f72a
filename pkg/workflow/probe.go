package workflow

import (
	"context"
	"time"

	"github.com/relaypost/relaypost/internal/relayerr"
	"github.com/relaypost/relaypost/pkg/platformadapter"
	"github.com/relaypost/relaypost/pkg/post"
)

// RunPoller runs the poll-probe fallback for one platform: posts sitting
// in awaiting_remote that haven't received a webhook get actively probed,
// so a dropped or never-sent callback doesn't strand a post forever
// (§4.4's supplemented poll-timeout path).
func (e *Engine) RunPoller(ctx context.Context, platform string) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.pollOnce(ctx, platform)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context, platform string) {
	now := time.Now()
	due, err := e.ledger.ListAwaitingRemote(ctx, platform, now.Add(-e.cfg.PollInterval), 100)
	if err != nil {
		e.logger.Error("listing awaiting_remote posts", "platform", platform, "error", err)
		return
	}
	for _, p := range due {
		e.probeOne(ctx, p, now)
	}
}

func (e *Engine) probeOne(ctx context.Context, p post.Post, now time.Time) {
	if now.Sub(p.UpdatedAt) > e.cfg.PollTimeout {
		e.fail(ctx, p, relayerr.New(relayerr.KindTransient, "poll timeout waiting for remote confirmation"))
		return
	}

	acct, err := e.ledger.GetAccount(ctx, p.AccountID)
	if err != nil {
		e.logger.Error("loading account for probe", "post_id", p.ID, "error", err)
		return
	}
	adapter, err := e.adapters.Get(p.Platform)
	if err != nil {
		e.logger.Error("resolving adapter for probe", "post_id", p.ID, "error", err)
		return
	}
	accessToken, err := e.tokens.Open(acct.AccessTokenEnc)
	if err != nil {
		e.logger.Error("decrypting access token for probe", "post_id", p.ID, "error", err)
		return
	}

	status, reason, err := adapter.Probe(ctx, accessToken, p.RemoteID)
	if err != nil {
		e.logger.Warn("probe call failed, will retry next interval", "post_id", p.ID, "error", err)
		return
	}

	switch status {
	case platformadapter.ProbePublished:
		if err := e.ledger.TransitionPost(ctx, p.ID, post.StatePublished, post.TransitionFields{RemoteID: p.RemoteID}); err != nil {
			e.logger.Error("marking post published via probe", "post_id", p.ID, "error", err)
			return
		}
		e.metrics.IncTerminal(string(post.StatePublished))
		e.logger.Info("post published, confirmed by probe", "post_id", p.ID)
	case platformadapter.ProbeFailed:
		e.fail(ctx, p, relayerr.New(relayerr.KindPermanentPlatform, reason))
	case platformadapter.ProbePending:
		// Still in flight; next tick re-checks.
	}
}
