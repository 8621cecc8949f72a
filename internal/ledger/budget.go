package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaypost/relaypost/pkg/budget"
	"github.com/relaypost/relaypost/pkg/creator"
)

// EnsureBudgetPeriod creates a creator's BudgetPeriod row for a month if
// none exists yet, so ReserveBudget always has a row to lock.
func (s *Store) EnsureBudgetPeriod(ctx context.Context, creatorID uuid.UUID, month string, limitUSD, softPct float64, hardStop bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO budget_periods (creator_id, month, limit_usd, soft_pct, hard_stop)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (creator_id, month) DO NOTHING`,
		creatorID, month, limitUSD, softPct, hardStop,
	)
	if err != nil {
		return fmt.Errorf("ensuring budget period: %w", err)
	}
	return nil
}

// ReserveBudget atomically checks the period's headroom and, if allowed,
// inserts a held Reservation — all under one row lock on budget_periods so
// concurrent reserve calls for the same creator+month never overdraw.
func (s *Store) ReserveBudget(ctx context.Context, p creator.Principal, month string, amount float64, ttl time.Duration) (budget.Reservation, budget.DenyReason, error) {
	var reservation budget.Reservation
	var denyReason budget.DenyReason

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var period budget.Period
		period.CreatorID = p.ID
		period.Month = month
		err := tx.QueryRow(ctx, `
			SELECT limit_usd, soft_pct, spent_usd, reserved_usd, hard_stop
			FROM budget_periods WHERE creator_id = $1 AND month = $2
			FOR UPDATE`,
			p.ID, month,
		).Scan(&period.LimitUSD, &period.SoftPct, &period.SpentUSD, &period.ReservedUSD, &period.HardStop)
		if err != nil {
			return fmt.Errorf("loading budget period: %w", mapNoRows(err))
		}

		projected := period
		projected.ReservedUSD += amount
		switch {
		case projected.HardBreached():
			denyReason = budget.DenyHardLimit
			return nil
		case period.HardStop && period.SoftBreached():
			denyReason = budget.DenySoftStop
			return nil
		}

		reservation = budget.Reservation{
			ID:        uuid.New(),
			CreatorID: p.ID,
			Month:     month,
			AmountUSD: amount,
			State:     budget.ReservationHeld,
			TTL:       ttl,
			CreatedAt: time.Now(),
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, creator_id, month, amount_usd, state, ttl_seconds, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			reservation.ID, reservation.CreatorID, reservation.Month, reservation.AmountUSD,
			string(reservation.State), int(ttl.Seconds()), reservation.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting reservation: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE budget_periods SET reserved_usd = reserved_usd + $3 WHERE creator_id = $1 AND month = $2`,
			p.ID, month, amount,
		); err != nil {
			return fmt.Errorf("incrementing reserved budget: %w", err)
		}
		return nil
	})
	if err != nil {
		return budget.Reservation{}, "", err
	}
	return reservation, denyReason, nil
}

// CommitReservation moves a held reservation's amount from reserved to
// spent, reconciling any delta between the original estimate and the
// actual cost within the same transaction.
func (s *Store) CommitReservation(ctx context.Context, p creator.Principal, reservationID uuid.UUID, actualAmount float64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var month string
		var estimated float64
		var state string
		err := tx.QueryRow(ctx, `
			SELECT month, amount_usd, state FROM reservations WHERE id = $1 AND creator_id = $2 FOR UPDATE`,
			reservationID, p.ID,
		).Scan(&month, &estimated, &state)
		if err != nil {
			return fmt.Errorf("loading reservation: %w", mapNoRows(err))
		}
		if state != string(budget.ReservationHeld) {
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE reservations SET state = $2 WHERE id = $1`, reservationID, string(budget.ReservationCommitted)); err != nil {
			return fmt.Errorf("committing reservation: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE budget_periods SET reserved_usd = reserved_usd - $3, spent_usd = spent_usd + $4
			WHERE creator_id = $1 AND month = $2`,
			p.ID, month, estimated, actualAmount,
		); err != nil {
			return fmt.Errorf("reconciling budget period: %w", err)
		}
		return nil
	})
}

func (s *Store) ReleaseReservation(ctx context.Context, p creator.Principal, reservationID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var month string
		var amount float64
		var state string
		err := tx.QueryRow(ctx, `
			SELECT month, amount_usd, state FROM reservations WHERE id = $1 AND creator_id = $2 FOR UPDATE`,
			reservationID, p.ID,
		).Scan(&month, &amount, &state)
		if err != nil {
			return fmt.Errorf("loading reservation: %w", mapNoRows(err))
		}
		if state != string(budget.ReservationHeld) {
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE reservations SET state = $2 WHERE id = $1`, reservationID, string(budget.ReservationReleased)); err != nil {
			return fmt.Errorf("releasing reservation: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE budget_periods SET reserved_usd = reserved_usd - $3 WHERE creator_id = $1 AND month = $2`,
			p.ID, month, amount,
		); err != nil {
			return fmt.Errorf("releasing budget period headroom: %w", err)
		}
		return nil
	})
}

func (s *Store) GetReservation(ctx context.Context, p creator.Principal, reservationID uuid.UUID) (budget.Reservation, error) {
	var r budget.Reservation
	var state string
	var ttlSeconds int
	r.ID = reservationID
	r.CreatorID = p.ID
	err := s.db.QueryRow(ctx, `
		SELECT month, amount_usd, state, ttl_seconds, created_at FROM reservations WHERE id = $1 AND creator_id = $2`,
		reservationID, p.ID,
	).Scan(&r.Month, &r.AmountUSD, &state, &ttlSeconds, &r.CreatedAt)
	if err != nil {
		return budget.Reservation{}, fmt.Errorf("loading reservation: %w", mapNoRows(err))
	}
	r.State = budget.ReservationState(state)
	r.TTL = time.Duration(ttlSeconds) * time.Second
	return r, nil
}

func (s *Store) GetBudgetPeriod(ctx context.Context, p creator.Principal, month string) (budget.Period, error) {
	var period budget.Period
	period.CreatorID = p.ID
	period.Month = month
	err := s.db.QueryRow(ctx, `
		SELECT limit_usd, soft_pct, spent_usd, reserved_usd, hard_stop
		FROM budget_periods WHERE creator_id = $1 AND month = $2`,
		p.ID, month,
	).Scan(&period.LimitUSD, &period.SoftPct, &period.SpentUSD, &period.ReservedUSD, &period.HardStop)
	if err != nil {
		return budget.Period{}, fmt.Errorf("loading budget period: %w", mapNoRows(err))
	}
	return period, nil
}

// ListExpiredHeldReservations returns every reservation still held whose
// TTL has elapsed, for the Budget Guard's periodic reaper.
func (s *Store) ListExpiredHeldReservations(ctx context.Context, now time.Time) ([]budget.Reservation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, creator_id, month, amount_usd, ttl_seconds, created_at
		FROM reservations
		WHERE state = $1 AND created_at + (ttl_seconds || ' seconds')::interval < $2`,
		string(budget.ReservationHeld), now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired reservations: %w", err)
	}
	defer rows.Close()

	var out []budget.Reservation
	for rows.Next() {
		var r budget.Reservation
		var ttlSeconds int
		if err := rows.Scan(&r.ID, &r.CreatorID, &r.Month, &r.AmountUSD, &ttlSeconds, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning reservation row: %w", err)
		}
		r.State = budget.ReservationHeld
		r.TTL = time.Duration(ttlSeconds) * time.Second
		out = append(out, r)
	}
	return out, rows.Err()
}
