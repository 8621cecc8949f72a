package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaypost/relaypost/internal/relayerr"
	"github.com/relaypost/relaypost/pkg/creator"
	"github.com/relaypost/relaypost/pkg/post"
	"github.com/relaypost/relaypost/pkg/workflow"
)

// ErrCrossTenant is returned whenever a CreatorPrincipal requests a row it
// doesn't own (§9: explicit-parameter tenancy, enforced in the Ledger
// Store rather than by an ambient session/ORM scope).
var ErrCrossTenant = fmt.Errorf("ledger: principal does not own requested resource")

func (s *Store) CreatePost(ctx context.Context, p creator.Principal, post_ post.Post) (post.Post, error) {
	post_.ID = uuid.New()
	post_.CreatorID = p.ID
	post_.State = post.StateDraft
	post_.ContentHash = post.ContentHash(post_.MediaRef, post_.Caption)
	post_.DedupeKey = post.DedupeKey(post_.AccountID, post_.ContentHash)
	_, err := s.db.Exec(ctx, `
		INSERT INTO posts (id, creator_id, account_id, platform, media_ref, caption, content_hash, dedupe_key, state, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		post_.ID, post_.CreatorID, post_.AccountID, post_.Platform, post_.MediaRef, post_.Caption, post_.ContentHash, post_.DedupeKey, string(post_.State), post_.ScheduledAt,
	)
	if err != nil {
		return post.Post{}, fmt.Errorf("inserting post: %w", err)
	}
	return post_, nil
}

// GetPostByID loads a post without a principal check. Reserved for
// system-internal callers that already reached the post through a trusted
// path that doesn't carry a CreatorPrincipal — the workflow engine
// resolving a webhook via its TrustedMapping lookup, the dispatch and
// poll-probe loops acting on posts they themselves claimed.
func (s *Store) GetPostByID(ctx context.Context, id uuid.UUID) (post.Post, error) {
	row := s.db.QueryRow(ctx, postSelectColumns+` FROM posts WHERE id = $1`, id)
	found, err := scanPost(row)
	if err != nil {
		return post.Post{}, fmt.Errorf("loading post: %w", mapNoRows(err))
	}
	return found, nil
}

func (s *Store) GetPost(ctx context.Context, p creator.Principal, id uuid.UUID) (post.Post, error) {
	row := s.db.QueryRow(ctx, postSelectColumns+` FROM posts WHERE id = $1`, id)
	found, err := scanPost(row)
	if err != nil {
		return post.Post{}, fmt.Errorf("loading post: %w", mapNoRows(err))
	}
	if found.CreatorID != p.ID {
		return post.Post{}, ErrCrossTenant
	}
	return found, nil
}

const postSelectColumns = `
	SELECT id, creator_id, account_id, platform, media_ref, caption, content_hash, dedupe_key,
	       state, scheduled_at, attempt_count, last_error_kind, last_error, next_retry_at,
	       remote_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (post.Post, error) {
	var p post.Post
	var state string
	var lastErrorKind, lastError, remoteID *string
	if err := row.Scan(
		&p.ID, &p.CreatorID, &p.AccountID, &p.Platform, &p.MediaRef, &p.Caption, &p.ContentHash, &p.DedupeKey,
		&state, &p.ScheduledAt, &p.AttemptCount, &lastErrorKind, &lastError, &p.NextRetryAt,
		&remoteID, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return post.Post{}, err
	}
	p.State = post.State(state)
	if lastErrorKind != nil {
		p.LastErrorKind = *lastErrorKind
	}
	if lastError != nil {
		p.LastError = *lastError
	}
	if remoteID != nil {
		p.RemoteID = *remoteID
	}
	return p, nil
}

// FindDedupeMatch returns the most recent non-expired post matching the
// same (account_id, dedupe_key), in any state; the caller decides which
// states count as a duplicate, so it can short-circuit a duplicate
// submission or adopt a prior remote id (§4.2 at-most-once dedupe).
func (s *Store) FindDedupeMatch(ctx context.Context, accountID uuid.UUID, dedupeKey string, window time.Duration, now time.Time) (*post.Post, error) {
	row := s.db.QueryRow(ctx, postSelectColumns+`
		FROM posts
		WHERE account_id = $1 AND dedupe_key = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`,
		accountID, dedupeKey, now.Add(-window),
	)
	p, err := scanPost(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up dedupe match: %w", err)
	}
	return &p, nil
}

// ClaimNextScheduledPost atomically claims one due post for a platform and
// marks it dispatching, so concurrent worker-pool goroutines never race on
// the same row (SELECT ... FOR UPDATE SKIP LOCKED instead of a
// compare-and-swap retry loop). A requeued post is due only once its
// next_retry_at has passed, and each claim counts as one attempt.
func (s *Store) ClaimNextScheduledPost(ctx context.Context, platform string, now time.Time) (*post.Post, error) {
	var claimed *post.Post
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, postSelectColumns+`
			FROM posts
			WHERE platform = $1 AND state = $2 AND scheduled_at <= $3
			  AND (next_retry_at IS NULL OR next_retry_at <= $3)
			ORDER BY scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			platform, string(post.StateScheduled), now,
		)
		p, err := scanPost(row)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil
			}
			return fmt.Errorf("claiming scheduled post: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE posts SET state = $2, attempt_count = attempt_count + 1, updated_at = now() WHERE id = $1`, p.ID, string(post.StateDispatching)); err != nil {
			return fmt.Errorf("marking post dispatching: %w", err)
		}
		p.State = post.StateDispatching
		p.AttemptCount++
		claimed = &p
		return nil
	})
	return claimed, err
}

// TransitionPost moves a post along the state DAG, refusing any edge
// post.CanTransitionTo doesn't allow. fields applies the side-effects
// particular to the target state (remote id, error, retry time). Called
// only by the workflow engine against post IDs it already resolved through
// a principal-scoped path, so it does not re-check ownership itself.
func (s *Store) TransitionPost(ctx context.Context, id uuid.UUID, to post.State, fields post.TransitionFields) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, postSelectColumns+` FROM posts WHERE id = $1 FOR UPDATE`, id)
		p, err := scanPost(row)
		if err != nil {
			return fmt.Errorf("loading post for transition: %w", mapNoRows(err))
		}
		if !post.CanTransitionTo(p.State, to) {
			return relayerr.New(relayerr.KindIntegrity, fmt.Sprintf("post %s: illegal transition %s -> %s", id, p.State, to))
		}

		attemptCount := p.AttemptCount
		if to == post.StateDispatching {
			attemptCount++
		}

		_, err = tx.Exec(ctx, `
			UPDATE posts SET
				state = $2, attempt_count = $3,
				last_error_kind = COALESCE($4, last_error_kind), last_error = COALESCE($5, last_error),
				next_retry_at = COALESCE($6, next_retry_at), remote_id = COALESCE($7, remote_id), updated_at = now()
			WHERE id = $1`,
			id, string(to), attemptCount, nullIfEmpty(fields.LastErrorKind), nullIfEmpty(fields.LastError),
			fields.NextRetryAt, nullIfEmpty(fields.RemoteID),
		)
		if err != nil {
			return fmt.Errorf("updating post state: %w", err)
		}
		return nil
	})
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListDueRetries returns posts parked in scheduled state whose
// next_retry_at has elapsed. The dispatch loop does not call it:
// ClaimNextScheduledPost picks up due retries itself.
func (s *Store) ListDueRetries(ctx context.Context, platform string, now time.Time, limit int) ([]post.Post, error) {
	rows, err := s.db.Query(ctx, postSelectColumns+`
		FROM posts
		WHERE platform = $1 AND state = $2 AND next_retry_at IS NOT NULL AND next_retry_at <= $3
		ORDER BY next_retry_at ASC
		LIMIT $4`,
		platform, string(post.StateScheduled), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing due retries: %w", err)
	}
	defer rows.Close()

	var out []post.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePendingSignal buffers a webhook signal that arrived before its post
// reached awaiting_remote, for TakePendingSignals to replay later (§4.5
// Ordering).
func (s *Store) SavePendingSignal(ctx context.Context, postID uuid.UUID, eventType string, payload json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pending_signals (post_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		postID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("saving pending signal: %w", err)
	}
	return nil
}

// TakePendingSignals returns and deletes every buffered signal for postID,
// oldest first, so each is replayed exactly once.
func (s *Store) TakePendingSignals(ctx context.Context, postID uuid.UUID) ([]workflow.PendingSignal, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM pending_signals WHERE post_id = $1
		RETURNING event_type, payload, created_at`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("taking pending signals: %w", err)
	}
	defer rows.Close()

	type scanned struct {
		sig       workflow.PendingSignal
		createdAt time.Time
	}
	var out []scanned
	for rows.Next() {
		var s scanned
		if err := rows.Scan(&s.sig.EventType, &s.sig.Payload, &s.createdAt); err != nil {
			return nil, fmt.Errorf("scanning pending signal row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	signals := make([]workflow.PendingSignal, len(out))
	for i, s := range out {
		signals[i] = s.sig
	}
	return signals, nil
}

// ListAwaitingRemote returns posts parked in awaiting_remote whose last
// transition is at least since ago, for the poll-probe fallback (§4.4's
// "a polling probe observes success" path, used when no webhook arrives).
func (s *Store) ListAwaitingRemote(ctx context.Context, platform string, since time.Time, limit int) ([]post.Post, error) {
	rows, err := s.db.Query(ctx, postSelectColumns+`
		FROM posts
		WHERE platform = $1 AND state = $2 AND updated_at <= $3
		ORDER BY updated_at ASC
		LIMIT $4`,
		platform, string(post.StateAwaitingRemote), since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing awaiting_remote posts: %w", err)
	}
	defer rows.Close()

	var out []post.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
