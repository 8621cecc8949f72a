package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/pkg/account"
	"github.com/relaypost/relaypost/pkg/creator"
	"github.com/relaypost/relaypost/pkg/post"
)

var (
	errNotFoundForTest    = errors.New("workflow test: post not found")
	errCrossTenantForTest = errors.New("workflow test: post belongs to a different creator")
)

// fakeLedger is an in-memory stand-in for internal/ledger.Store, just
// enough of it to exercise the Engine's Submit/Cancel orchestration
// without a Postgres connection.
type fakeLedger struct {
	posts    map[uuid.UUID]post.Post
	accounts map[uuid.UUID]account.Account
	pending  map[uuid.UUID][]PendingSignal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		posts:    make(map[uuid.UUID]post.Post),
		accounts: make(map[uuid.UUID]account.Account),
		pending:  make(map[uuid.UUID][]PendingSignal),
	}
}

func (f *fakeLedger) SavePendingSignal(ctx context.Context, postID uuid.UUID, eventType string, payload json.RawMessage) error {
	f.pending[postID] = append(f.pending[postID], PendingSignal{EventType: eventType, Payload: payload})
	return nil
}

func (f *fakeLedger) TakePendingSignals(ctx context.Context, postID uuid.UUID) ([]PendingSignal, error) {
	signals := f.pending[postID]
	delete(f.pending, postID)
	return signals, nil
}

func (f *fakeLedger) CreatePost(ctx context.Context, p creator.Principal, draft post.Post) (post.Post, error) {
	draft.ID = uuid.New()
	draft.CreatorID = p.ID
	draft.State = post.StateDraft
	draft.ContentHash = post.ContentHash(draft.MediaRef, draft.Caption)
	draft.DedupeKey = post.DedupeKey(draft.AccountID, draft.ContentHash)
	draft.CreatedAt = time.Now()
	draft.UpdatedAt = draft.CreatedAt
	f.posts[draft.ID] = draft
	return draft, nil
}

func (f *fakeLedger) GetPost(ctx context.Context, p creator.Principal, id uuid.UUID) (post.Post, error) {
	pst, ok := f.posts[id]
	if !ok {
		return post.Post{}, errNotFoundForTest
	}
	if pst.CreatorID != p.ID {
		return post.Post{}, errCrossTenantForTest
	}
	return pst, nil
}

func (f *fakeLedger) GetPostByID(ctx context.Context, id uuid.UUID) (post.Post, error) {
	pst, ok := f.posts[id]
	if !ok {
		return post.Post{}, errNotFoundForTest
	}
	return pst, nil
}

func (f *fakeLedger) FindDedupeMatch(ctx context.Context, accountID uuid.UUID, dedupeKey string, window time.Duration, now time.Time) (*post.Post, error) {
	for _, pst := range f.posts {
		if pst.DedupeKey != dedupeKey {
			continue
		}
		if now.Sub(pst.CreatedAt) > window {
			continue
		}
		found := pst
		return &found, nil
	}
	return nil, nil
}

func (f *fakeLedger) ClaimNextScheduledPost(ctx context.Context, platform string, now time.Time) (*post.Post, error) {
	return nil, nil
}

func (f *fakeLedger) TransitionPost(ctx context.Context, id uuid.UUID, to post.State, fields post.TransitionFields) error {
	pst, ok := f.posts[id]
	if !ok {
		return errNotFoundForTest
	}
	pst.State = to
	if fields.RemoteID != "" {
		pst.RemoteID = fields.RemoteID
	}
	if fields.LastErrorKind != "" {
		pst.LastErrorKind = fields.LastErrorKind
		pst.LastError = fields.LastError
	}
	pst.NextRetryAt = fields.NextRetryAt
	pst.UpdatedAt = time.Now()
	f.posts[id] = pst
	return nil
}

func (f *fakeLedger) ListDueRetries(ctx context.Context, platform string, now time.Time, limit int) ([]post.Post, error) {
	return nil, nil
}

func (f *fakeLedger) ListAwaitingRemote(ctx context.Context, platform string, since time.Time, limit int) ([]post.Post, error) {
	return nil, nil
}

func (f *fakeLedger) GetAccount(ctx context.Context, id uuid.UUID) (account.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return account.Account{}, errNotFoundForTest
	}
	return a, nil
}

func (f *fakeLedger) UpdateAccountState(ctx context.Context, id uuid.UUID, state account.State) error {
	a, ok := f.accounts[id]
	if !ok {
		return errNotFoundForTest
	}
	a.State = state
	f.accounts[id] = a
	return nil
}

func (f *fakeLedger) CreateMapping(ctx context.Context, provider, platformID string, postID uuid.UUID, kind string) error {
	return nil
}

type noopMetrics struct{}

func (noopMetrics) IncDispatched(platform, outcome string) {}
func (noopMetrics) IncTerminal(state string)               {}

func newTestEngine(t *testing.T, ledger Ledger, cfg Config) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(ledger, nil, nil, nil, logger, noopMetrics{}, cfg)
}

func TestSubmitCreatesScheduledPost(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	p := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()

	created, err := engine.Submit(context.Background(), p, SubmitRequest{
		AccountID: accountID.String(),
		Platform:  "instagram",
		MediaRef:  "media.jpg",
		Caption:   "hello",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if created.State != post.StateScheduled {
		t.Errorf("State = %v, want %v", created.State, post.StateScheduled)
	}
	if created.ScheduledAt == nil {
		t.Error("expected ScheduledAt to default to now when not provided")
	}
}

func TestSubmitDedupesWithinWindow(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	p := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()

	req := SubmitRequest{AccountID: accountID.String(), Platform: "instagram", MediaRef: "media.jpg", Caption: "hello"}

	first, err := engine.Submit(context.Background(), p, req)
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	second, err := engine.Submit(context.Background(), p, req)
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the second submission to dedupe to the first post %s, got %s", first.ID, second.ID)
	}
}

func TestSubmitDoesNotDedupeAfterCancelledAttempt(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	p := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()
	req := SubmitRequest{AccountID: accountID.String(), Platform: "instagram", MediaRef: "media.jpg", Caption: "hello"}

	first, err := engine.Submit(context.Background(), p, req)
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := engine.Cancel(context.Background(), p, first.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	second, err := engine.Submit(context.Background(), p, req)
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("a cancelled prior attempt should not dedupe-block a fresh submission")
	}
}

func TestCancelRejectsWrongPrincipal(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	owner := creator.NewPrincipal(uuid.New())
	intruder := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()

	created, err := engine.Submit(context.Background(), owner, SubmitRequest{
		AccountID: accountID.String(), Platform: "instagram", MediaRef: "media.jpg", Caption: "hello",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := engine.Cancel(context.Background(), intruder, created.ID); err == nil {
		t.Error("expected Cancel() to reject a principal that does not own the post")
	}
}

func TestCancelIsNoopOnTerminalPost(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	p := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()

	created, err := engine.Submit(context.Background(), p, SubmitRequest{
		AccountID: accountID.String(), Platform: "instagram", MediaRef: "media.jpg", Caption: "hello",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := engine.Cancel(context.Background(), p, created.ID); err != nil {
		t.Fatalf("first Cancel() error = %v", err)
	}
	if err := engine.Cancel(context.Background(), p, created.ID); err != nil {
		t.Errorf("second Cancel() on an already-cancelled post should be a no-op, got error = %v", err)
	}
}

func TestSignalWebhookBuffersBeforeAwaitingRemoteAndReplaysOnDispatch(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	p := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()
	ctx := context.Background()

	created, err := engine.Submit(ctx, p, SubmitRequest{
		AccountID: accountID.String(), Platform: "instagram", MediaRef: "media.jpg", Caption: "hello",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	// Still scheduled, not yet dispatching/awaiting_remote: a signal here
	// must be buffered, not dropped.
	if err := engine.SignalWebhook(ctx, created.ID, "published", json.RawMessage(`{"status":"published"}`)); err != nil {
		t.Fatalf("SignalWebhook() error = %v", err)
	}

	pst, err := ledger.GetPostByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetPostByID() error = %v", err)
	}
	if pst.State == post.StatePublished {
		t.Fatal("expected the signal to be buffered, not applied immediately")
	}
	if len(ledger.pending[created.ID]) != 1 {
		t.Fatalf("expected exactly one buffered signal, got %d", len(ledger.pending[created.ID]))
	}

	// Advance the post to dispatching, then to awaiting_remote the way
	// dispatchOne does, and replay.
	if err := ledger.TransitionPost(ctx, created.ID, post.StateDispatching, post.TransitionFields{}); err != nil {
		t.Fatalf("TransitionPost(dispatching) error = %v", err)
	}
	if err := ledger.TransitionPost(ctx, created.ID, post.StateAwaitingRemote, post.TransitionFields{RemoteID: "remote-1"}); err != nil {
		t.Fatalf("TransitionPost(awaiting_remote) error = %v", err)
	}
	engine.replayPendingSignals(ctx, created.ID)

	pst, err = ledger.GetPostByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetPostByID() error = %v", err)
	}
	if pst.State != post.StatePublished {
		t.Errorf("State after replay = %v, want %v", pst.State, post.StatePublished)
	}
	if len(ledger.pending[created.ID]) != 0 {
		t.Error("expected the buffered signal to be consumed after replay")
	}
}

func TestSignalWebhookDropsSignalForTerminalPost(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(t, ledger, Config{DedupeWindow: time.Hour})
	p := creator.NewPrincipal(uuid.New())
	accountID := uuid.New()
	ctx := context.Background()

	created, err := engine.Submit(ctx, p, SubmitRequest{
		AccountID: accountID.String(), Platform: "instagram", MediaRef: "media.jpg", Caption: "hello",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := engine.Cancel(ctx, p, created.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if err := engine.SignalWebhook(ctx, created.ID, "published", json.RawMessage(`{"status":"published"}`)); err != nil {
		t.Fatalf("SignalWebhook() error = %v", err)
	}
	if len(ledger.pending[created.ID]) != 0 {
		t.Error("a stale signal for an already-terminal post should be dropped, not buffered")
	}
}
