// Package account holds the Account entity: a creator's authenticated
// identity on one platform, with its own rate-limit budget and failure
// mode, independent of every other account.
package account

import (
	"time"

	"github.com/google/uuid"
)

// State is the account lifecycle: pending -> active -> (cooldown | revoked).
// Only active accounts may publish.
type State string

const (
	StatePending  State = "pending"
	StateActive   State = "active"
	StateCooldown State = "cooldown"
	StateRevoked  State = "revoked"
)

// Platform identifies a supported destination.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformX         Platform = "x"
	PlatformReddit    Platform = "reddit"
)

// Account is a creator's identity on one platform.
type Account struct {
	ID                uuid.UUID
	CreatorID         uuid.UUID
	Platform          Platform
	PlatformAccountID string
	State             State
	AccessTokenEnc    []byte
	RefreshTokenEnc   []byte
	TokenExpiresAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanPublish reports whether the account may be used to publish right now.
func (a Account) CanPublish() bool {
	return a.State == StateActive
}
