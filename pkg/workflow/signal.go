package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/internal/relayerr"
	"github.com/relaypost/relaypost/pkg/account"
	"github.com/relaypost/relaypost/pkg/post"
)

// webhookPayload is the minimal shape a provider's confirmation callback
// carries once routed to a post; richer per-provider detail is a
// collaborator concern (§1).
type webhookPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// SignalWebhook implements webhookingress.WorkflowSignaler: it delivers a
// routed callback to the post's in-flight instance (§4.4's "webhook"
// signal). A post already in awaiting_remote processes the signal
// immediately. A post that hasn't reached awaiting_remote yet (e.g. a
// moderation update racing ahead of the publish confirmation) buffers the
// signal instead of dropping it; dispatchOne replays buffered signals
// once the post transitions into awaiting_remote (§4.5 Ordering). A post
// already in a terminal state treats the signal as stale/duplicate and
// drops it.
func (e *Engine) SignalWebhook(ctx context.Context, postID uuid.UUID, eventType string, payload json.RawMessage) error {
	p, err := e.ledger.GetPostByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("loading post for webhook signal: %w", err)
	}
	if p.State.Terminal() {
		e.logger.Debug("webhook signal for post already terminal, ignoring", "post_id", postID, "state", p.State)
		return nil
	}
	if p.State != post.StateAwaitingRemote {
		if err := e.ledger.SavePendingSignal(ctx, postID, eventType, payload); err != nil {
			return fmt.Errorf("buffering webhook signal: %w", err)
		}
		e.logger.Debug("webhook signal arrived before awaiting_remote, buffered", "post_id", postID, "state", p.State)
		return nil
	}

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return relayerr.Wrap(relayerr.KindValidation, "decoding webhook payload", err)
	}
	status := body.Status
	if status == "" {
		status = eventType
	}

	switch status {
	case "published", "success":
		return e.ledger.TransitionPost(ctx, postID, post.StatePublished, post.TransitionFields{RemoteID: p.RemoteID})
	case "failed", "rejected":
		return e.ledger.TransitionPost(ctx, postID, post.StateFailed, post.TransitionFields{
			LastErrorKind: relayerr.KindPermanentPlatform.String(),
			LastError:     body.Reason,
		})
	default:
		e.logger.Debug("webhook signal with unrecognized status, ignoring", "post_id", postID, "status", status)
		return nil
	}
}

// SignalRefreshTokenReady resumes dispatch for an account that was parked
// in cooldown awaiting a fresh token (§4.4's "refresh_token_ready"
// signal): it simply clears the cooldown so the next claim cycle picks
// the account back up.
func (e *Engine) SignalRefreshTokenReady(ctx context.Context, accountID uuid.UUID) error {
	return e.ledger.UpdateAccountState(ctx, accountID, account.StateActive)
}
