package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/internal/relayerr"
	"github.com/relaypost/relaypost/pkg/account"
	"github.com/relaypost/relaypost/pkg/creator"
	"github.com/relaypost/relaypost/pkg/platformadapter"
	"github.com/relaypost/relaypost/pkg/post"
	"github.com/relaypost/relaypost/pkg/scheduler"
)

// Ledger is the slice of the Ledger Store the Workflow Engine depends on.
type Ledger interface {
	CreatePost(ctx context.Context, p creator.Principal, draft post.Post) (post.Post, error)
	GetPost(ctx context.Context, p creator.Principal, id uuid.UUID) (post.Post, error)
	GetPostByID(ctx context.Context, id uuid.UUID) (post.Post, error)
	FindDedupeMatch(ctx context.Context, accountID uuid.UUID, dedupeKey string, window time.Duration, now time.Time) (*post.Post, error)
	ClaimNextScheduledPost(ctx context.Context, platform string, now time.Time) (*post.Post, error)
	TransitionPost(ctx context.Context, id uuid.UUID, to post.State, fields post.TransitionFields) error
	ListDueRetries(ctx context.Context, platform string, now time.Time, limit int) ([]post.Post, error)
	ListAwaitingRemote(ctx context.Context, platform string, since time.Time, limit int) ([]post.Post, error)
	GetAccount(ctx context.Context, id uuid.UUID) (account.Account, error)
	UpdateAccountState(ctx context.Context, id uuid.UUID, state account.State) error
	CreateMapping(ctx context.Context, provider, platformID string, postID uuid.UUID, kind string) error
	SavePendingSignal(ctx context.Context, postID uuid.UUID, eventType string, payload json.RawMessage) error
	TakePendingSignals(ctx context.Context, postID uuid.UUID) ([]PendingSignal, error)
}

// TokenOpener decrypts an Account's stored access token. A narrow
// interface so tests can swap in a no-op opener instead of wiring real
// AES-GCM keys.
type TokenOpener interface {
	Open(ciphertext []byte) (string, error)
}

// Metrics is the narrow counter surface the engine records outcomes to.
type Metrics interface {
	IncDispatched(platform, outcome string)
	IncTerminal(state string)
}

// Engine is the Workflow Engine: owns the claim -> dispatch -> terminal
// lifecycle for every Post, independent of the HTTP request that created
// it (§4.4).
type Engine struct {
	ledger    Ledger
	scheduler *scheduler.Scheduler
	adapters  platformadapter.Registry
	tokens    TokenOpener
	logger    *slog.Logger
	metrics   Metrics
	cfg       Config
}

func NewEngine(ledger Ledger, sched *scheduler.Scheduler, adapters platformadapter.Registry, tokens TokenOpener, logger *slog.Logger, metrics Metrics, cfg Config) *Engine {
	return &Engine{
		ledger:    ledger,
		scheduler: sched,
		adapters:  adapters,
		tokens:    tokens,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Submit creates a new Post and, if it is a duplicate of a recent
// submission for the same account within the dedupe window, short-circuits
// to the prior post instead of scheduling a second publish (§4.2).
func (e *Engine) Submit(ctx context.Context, p creator.Principal, req SubmitRequest) (post.Post, error) {
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return post.Post{}, relayerr.Wrap(relayerr.KindValidation, "parsing account id", err)
	}

	contentHash := post.ContentHash(req.MediaRef, req.Caption)
	dedupeKey := post.DedupeKey(accountID, contentHash)

	now := time.Now()
	existing, err := e.ledger.FindDedupeMatch(ctx, accountID, dedupeKey, e.cfg.DedupeWindow, now)
	if err != nil {
		return post.Post{}, fmt.Errorf("checking dedupe window: %w", err)
	}
	// A prior attempt still in flight, or already published, short-circuits
	// the new submission (§4.2's at-most-once guarantee). A prior attempt
	// that failed or was cancelled does not block a fresh try.
	if existing != nil && (!existing.State.Terminal() || existing.State == post.StatePublished) {
		e.logger.Info("submit deduped against existing post", "post_id", existing.ID, "dedupe_key", dedupeKey)
		return *existing, nil
	}

	if req.ScheduledAt == nil {
		t := now
		req.ScheduledAt = &t
	}
	draft := post.Post{
		AccountID:   accountID,
		Platform:    req.Platform,
		MediaRef:    req.MediaRef,
		Caption:     req.Caption,
		ScheduledAt: req.ScheduledAt,
	}
	created, err := e.ledger.CreatePost(ctx, p, draft)
	if err != nil {
		return post.Post{}, fmt.Errorf("creating post: %w", err)
	}

	target := post.StateScheduled
	fields := post.TransitionFields{}
	if err := e.ledger.TransitionPost(ctx, created.ID, target, fields); err != nil {
		return post.Post{}, fmt.Errorf("scheduling post: %w", err)
	}
	created.State = target

	e.logger.Info("post submitted", "post_id", created.ID, "account_id", accountID, "platform", req.Platform, "scheduled_at", created.ScheduledAt)
	return created, nil
}

// Get loads a single post, scoped to its owning principal.
func (e *Engine) Get(ctx context.Context, p creator.Principal, postID uuid.UUID) (post.Post, error) {
	return e.ledger.GetPost(ctx, p, postID)
}

// Cancel transitions a post to cancelled where the state DAG allows it (the
// "cancel" signal from §4.4's signal table). It is a no-op on a terminal
// post and refuses a post that is currently dispatching.
func (e *Engine) Cancel(ctx context.Context, p creator.Principal, postID uuid.UUID) error {
	current, err := e.ledger.GetPost(ctx, p, postID)
	if err != nil {
		return fmt.Errorf("loading post: %w", err)
	}
	if current.State.Terminal() {
		return nil
	}
	if !post.CanTransitionTo(current.State, post.StateCancelled) {
		return relayerr.New(relayerr.KindIntegrity, fmt.Sprintf("post %s cannot be cancelled from state %s", postID, current.State))
	}
	return e.ledger.TransitionPost(ctx, postID, post.StateCancelled, post.TransitionFields{})
}
