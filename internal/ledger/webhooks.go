package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/pkg/webhookingress"
)

// UpsertWebhookEvent inserts a new WebhookEvent row, or reports Duplicate
// if (provider, event_id) already exists — idempotency is enforced by the
// table's primary key, not a prior SELECT (§4.5).
func (s *Store) UpsertWebhookEvent(ctx context.Context, e webhookingress.Event) (webhookingress.UpsertOutcome, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payload, signature_verified, processing_status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		e.Provider, e.EventID, e.EventType, e.Payload, e.SignatureVerified, string(e.ProcessingStatus), e.ReceivedAt,
	)
	if err != nil {
		return "", fmt.Errorf("upserting webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhookingress.Duplicate, nil
	}
	return webhookingress.Created, nil
}

func (s *Store) UpdateEventStatus(ctx context.Context, provider, eventID string, status webhookingress.ProcessingStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE webhook_events SET processing_status = $3, processed_at = now()
		WHERE provider = $1 AND event_id = $2`,
		provider, eventID, string(status),
	)
	if err != nil {
		return fmt.Errorf("updating webhook event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) IncrementEventRetry(ctx context.Context, provider, eventID string) (int, error) {
	var retryCount int
	err := s.db.QueryRow(ctx, `
		UPDATE webhook_events SET retry_count = retry_count + 1
		WHERE provider = $1 AND event_id = $2
		RETURNING retry_count`,
		provider, eventID,
	).Scan(&retryCount)
	if err != nil {
		return 0, fmt.Errorf("incrementing webhook event retry: %w", mapNoRows(err))
	}
	return retryCount, nil
}

func (s *Store) LookupMapping(ctx context.Context, provider, platformID string) (webhookingress.Mapping, error) {
	var m webhookingress.Mapping
	err := s.db.QueryRow(ctx, `
		SELECT provider, platform_id, post_id, kind FROM trusted_mappings
		WHERE provider = $1 AND platform_id = $2`,
		provider, platformID,
	).Scan(&m.Provider, &m.PlatformID, &m.PostID, &m.Kind)
	if err != nil {
		return webhookingress.Mapping{}, fmt.Errorf("looking up trusted mapping: %w", mapNoRows(err))
	}
	return m, nil
}

// CreateMapping registers a TrustedMapping once a post's remote id is
// known (on successful publish), so a later webhook callback for that
// remote id can be routed back to the post.
func (s *Store) CreateMapping(ctx context.Context, provider, platformID string, postID uuid.UUID, kind string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trusted_mappings (provider, platform_id, post_id, kind)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, platform_id) DO NOTHING`,
		provider, platformID, postID, kind,
	)
	if err != nil {
		return fmt.Errorf("inserting trusted mapping: %w", err)
	}
	return nil
}

// ListUnroutableEvents returns events still marked unroutable for the
// reconciler to retry (§4.5 step 4).
func (s *Store) ListUnroutableEvents(ctx context.Context, limit int) ([]webhookingress.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT provider, event_id, event_type, payload, signature_verified, processing_status, received_at, processed_at, retry_count
		FROM webhook_events WHERE processing_status = $1
		ORDER BY received_at ASC
		LIMIT $2`,
		string(webhookingress.StatusUnroutable), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unroutable webhook events: %w", err)
	}
	defer rows.Close()

	var out []webhookingress.Event
	for rows.Next() {
		var e webhookingress.Event
		var status string
		if err := rows.Scan(&e.Provider, &e.EventID, &e.EventType, &e.Payload, &e.SignatureVerified, &status, &e.ReceivedAt, &e.ProcessedAt, &e.RetryCount); err != nil {
			return nil, fmt.Errorf("scanning webhook event row: %w", err)
		}
		e.ProcessingStatus = webhookingress.ProcessingStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
