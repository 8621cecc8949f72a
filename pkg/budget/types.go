package budget

import (
	"time"

	"github.com/google/uuid"
)

// ReservationState is a Reservation's lifecycle.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
	ReservationExpired   ReservationState = "expired"
)

// Reservation is provisional spend tied to an in-flight LLM call.
type Reservation struct {
	ID        uuid.UUID
	CreatorID uuid.UUID
	Month     string // "YYYY-MM"
	AmountUSD float64
	State     ReservationState
	TTL       time.Duration
	CreatedAt time.Time
}

// Expired reports whether the reservation has outlived its TTL as of now.
func (r Reservation) Expired(now time.Time) bool {
	return r.State == ReservationHeld && now.Sub(r.CreatedAt) > r.TTL
}

// Period is a BudgetPeriod: a creator's monthly spend ceiling and
// accounting state.
type Period struct {
	CreatorID   uuid.UUID
	Month       string
	LimitUSD    float64
	SoftPct     float64
	SpentUSD    float64
	ReservedUSD float64
	HardStop    bool
}

// SoftBreached reports whether spent+reserved has crossed the soft
// threshold.
func (p Period) SoftBreached() bool {
	return p.SpentUSD+p.ReservedUSD >= p.SoftPct*p.LimitUSD
}

// HardBreached reports whether spent+reserved has exceeded the hard limit.
// Exactly at the limit is still accepted (spec boundary: spent+reserved ==
// limit is allowed; only strictly over it is denied).
func (p Period) HardBreached() bool {
	return p.SpentUSD+p.ReservedUSD > p.LimitUSD
}

// Status is the public status(creator, month) response.
type Status struct {
	LimitUSD      float64
	SpentUSD      float64
	ReservedUSD   float64
	SoftBreached  bool
	HardBreached  bool
}

// DenyReason classifies why reserve() refused a request.
type DenyReason string

const (
	DenyHardLimit DenyReason = "hard_limit_exceeded"
	DenySoftStop  DenyReason = "soft_limit_hard_stop"
)
