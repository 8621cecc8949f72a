// Package budget implements the LLM cost-budget reservation system: a
// soft/hard-limited monthly ledger per creator, with TTL-bounded
// reservations so spend is bounded across concurrent workers without
// serializing every call through one lock.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/internal/relayerr"
	"github.com/relaypost/relaypost/pkg/creator"
)

// Ledger is the slice of the Ledger Store the Budget Guard depends on. All
// of its methods are atomic with respect to a BudgetPeriod's read-modify-write.
type Ledger interface {
	// EnsureBudgetPeriod creates a creator's BudgetPeriod row for a month
	// with the given defaults if none exists yet, so ReserveBudget always
	// has a row to lock.
	EnsureBudgetPeriod(ctx context.Context, creatorID uuid.UUID, month string, limitUSD, softPct float64, hardStop bool) error
	// ReserveBudget atomically checks spent+reserved+amount against the
	// period's limit and, if allowed, inserts a held Reservation.
	ReserveBudget(ctx context.Context, p creator.Principal, month string, amount float64, ttl time.Duration) (Reservation, DenyReason, error)
	CommitReservation(ctx context.Context, p creator.Principal, reservationID uuid.UUID, actualAmount float64) error
	ReleaseReservation(ctx context.Context, p creator.Principal, reservationID uuid.UUID) error
	GetReservation(ctx context.Context, p creator.Principal, reservationID uuid.UUID) (Reservation, error)
	GetBudgetPeriod(ctx context.Context, p creator.Principal, month string) (Period, error)
	ListExpiredHeldReservations(ctx context.Context, now time.Time) ([]Reservation, error)
}

// Metrics is the narrow counter surface the Guard records outcomes to.
type Metrics interface {
	IncReservation(outcome string)
}

// Defaults seeds a creator's first BudgetPeriod row in a month they have
// not been configured for yet.
type Defaults struct {
	LimitUSD float64
	SoftPct  float64
	HardStop bool
}

// Guard is the public Budget Guard service (§4.3).
type Guard struct {
	ledger   Ledger
	logger   *slog.Logger
	metrics  Metrics
	defaults Defaults
}

func NewGuard(ledger Ledger, logger *slog.Logger, metrics Metrics, defaults Defaults) *Guard {
	return &Guard{ledger: ledger, logger: logger, metrics: metrics, defaults: defaults}
}

// Reserve atomically checks spent+reserved+amount <= limit and returns a
// held Reservation. If hard_stop is set and soft_pct*limit is already
// breached, the reservation is denied with the soft-stop reason whatever
// hard headroom remains.
func (g *Guard) Reserve(ctx context.Context, p creator.Principal, month string, amount float64) (Reservation, error) {
	if err := g.ledger.EnsureBudgetPeriod(ctx, p.ID, month, g.defaults.LimitUSD, g.defaults.SoftPct, g.defaults.HardStop); err != nil {
		return Reservation{}, fmt.Errorf("ensuring budget period: %w", err)
	}
	r, reason, err := g.ledger.ReserveBudget(ctx, p, month, amount, 10*time.Minute)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserving budget: %w", err)
	}
	if reason != "" {
		g.metrics.IncReservation("denied")
		return Reservation{}, relayerr.New(relayerr.KindBudgetDenied, string(reason))
	}
	g.metrics.IncReservation("held")
	g.logger.Info("budget reserved", "creator_id", p.ID, "month", month, "amount_usd", amount, "reservation_id", r.ID)
	return r, nil
}

// Commit moves the reservation's actual cost from reserved to spent. Any
// delta between the original estimate and the actual cost is released
// back to the period's headroom as part of the same ledger transaction.
// A second commit for the same reservation is a no-op.
func (g *Guard) Commit(ctx context.Context, p creator.Principal, reservationID uuid.UUID, actualAmount float64) error {
	r, err := g.ledger.GetReservation(ctx, p, reservationID)
	if err != nil {
		return fmt.Errorf("loading reservation: %w", err)
	}
	if r.State != ReservationHeld {
		// Already committed/released/expired — idempotent no-op.
		return nil
	}
	if err := g.ledger.CommitReservation(ctx, p, reservationID, actualAmount); err != nil {
		return fmt.Errorf("committing reservation: %w", err)
	}
	g.logger.Info("budget committed", "reservation_id", reservationID, "actual_usd", actualAmount)
	return nil
}

// Release returns a held reservation's amount to the period's headroom
// without spending it. A second release is a no-op.
func (g *Guard) Release(ctx context.Context, p creator.Principal, reservationID uuid.UUID) error {
	r, err := g.ledger.GetReservation(ctx, p, reservationID)
	if err != nil {
		return fmt.Errorf("loading reservation: %w", err)
	}
	if r.State != ReservationHeld {
		return nil
	}
	if err := g.ledger.ReleaseReservation(ctx, p, reservationID); err != nil {
		return fmt.Errorf("releasing reservation: %w", err)
	}
	return nil
}

// Status returns the creator's spend snapshot for the given month.
func (g *Guard) Status(ctx context.Context, p creator.Principal, month string) (Status, error) {
	if err := g.ledger.EnsureBudgetPeriod(ctx, p.ID, month, g.defaults.LimitUSD, g.defaults.SoftPct, g.defaults.HardStop); err != nil {
		return Status{}, fmt.Errorf("ensuring budget period: %w", err)
	}
	period, err := g.ledger.GetBudgetPeriod(ctx, p, month)
	if err != nil {
		return Status{}, fmt.Errorf("loading budget period: %w", err)
	}
	return Status{
		LimitUSD:     period.LimitUSD,
		SpentUSD:     period.SpentUSD,
		ReservedUSD:  period.ReservedUSD,
		SoftBreached: period.SoftBreached(),
		HardBreached: period.HardBreached(),
	}, nil
}

// ReapExpired releases every held reservation past its TTL. Run
// periodically (see internal/app's cron wiring) so a crashed worker never
// permanently locks up budget headroom.
func (g *Guard) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := g.ledger.ListExpiredHeldReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("listing expired reservations: %w", err)
	}
	released := 0
	for _, r := range expired {
		p := creator.NewPrincipal(r.CreatorID)
		if err := g.ledger.ReleaseReservation(ctx, p, r.ID); err != nil {
			g.logger.Error("reaping expired reservation", "reservation_id", r.ID, "error", err)
			continue
		}
		released++
	}
	if released > 0 {
		g.logger.Info("reaped expired reservations", "count", released)
	}
	return released, nil
}
