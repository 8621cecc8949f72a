package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/pkg/account"
)

func (s *Store) CreateAccount(ctx context.Context, a account.Account) (account.Account, error) {
	a.ID = uuid.New()
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, creator_id, platform, platform_account_id, state, access_token_enc, refresh_token_enc, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.CreatorID, string(a.Platform), a.PlatformAccountID, string(a.State),
		a.AccessTokenEnc, a.RefreshTokenEnc, a.TokenExpiresAt,
	)
	if err != nil {
		return account.Account{}, fmt.Errorf("inserting account: %w", err)
	}
	return a, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (account.Account, error) {
	var a account.Account
	var platform, state string
	err := s.db.QueryRow(ctx, `
		SELECT id, creator_id, platform, platform_account_id, state, access_token_enc, refresh_token_enc, token_expires_at, created_at, updated_at
		FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.CreatorID, &platform, &a.PlatformAccountID, &state, &a.AccessTokenEnc, &a.RefreshTokenEnc, &a.TokenExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return account.Account{}, fmt.Errorf("loading account: %w", mapNoRows(err))
	}
	a.Platform = account.Platform(platform)
	a.State = account.State(state)
	return a, nil
}

// UpdateAccountState transitions an account's lifecycle state, e.g. into
// cooldown or revoked in response to a persistent auth failure (§4.2/§7).
func (s *Store) UpdateAccountState(ctx context.Context, id uuid.UUID, state account.State) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET state = $2, updated_at = now() WHERE id = $1`, id, string(state))
	if err != nil {
		return fmt.Errorf("updating account state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccountTokens persists a fresh access/refresh token pair after a
// token_refresh_ready signal (§9 supplement). It leaves the account's
// state, including any cooldown, unchanged; state is the caller's to manage.
func (s *Store) UpdateAccountTokens(ctx context.Context, id uuid.UUID, accessTokenEnc, refreshTokenEnc []byte, expiresAt *time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET access_token_enc = $2, refresh_token_enc = $3, token_expires_at = $4, updated_at = now()
		WHERE id = $1`,
		id, accessTokenEnc, refreshTokenEnc, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("updating account tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveByPlatform returns every publishable account on a platform, the
// candidate set the fair-share dispatcher picks from.
func (s *Store) ListActiveByPlatform(ctx context.Context, platform account.Platform) ([]account.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, creator_id, platform, platform_account_id, state, access_token_enc, refresh_token_enc, token_expires_at, created_at, updated_at
		FROM accounts WHERE platform = $1 AND state = 'active'`, string(platform),
	)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		var a account.Account
		var plat, state string
		if err := rows.Scan(&a.ID, &a.CreatorID, &plat, &a.PlatformAccountID, &state, &a.AccessTokenEnc, &a.RefreshTokenEnc, &a.TokenExpiresAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		a.Platform = account.Platform(plat)
		a.State = account.State(state)
		out = append(out, a)
	}
	return out, rows.Err()
}
