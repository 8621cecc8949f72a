// Package creator defines the explicit tenancy principal threaded through
// every Ledger Store and service call. The source pinned creator_id via
// request-scoped context consumed by a decorator; here it is an ordinary
// parameter, and the Ledger Store refuses to infer it from ambient state.
package creator

import "github.com/google/uuid"

// Principal identifies the creator on whose behalf a call is made. Every
// Ledger Store method that touches per-creator state takes one explicitly.
type Principal struct {
	ID uuid.UUID
}

func NewPrincipal(id uuid.UUID) Principal {
	return Principal{ID: id}
}
