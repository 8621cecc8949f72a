package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaypost/relaypost/pkg/creator"
)

// PrincipalHeader carries the authenticated creator id. Tenancy is
// threaded as an explicit parameter through every service call (§9)
// rather than resolved from ambient request context, so this is the only
// place a CreatorPrincipal is built from the transport layer.
const PrincipalHeader = "X-Creator-ID"

// PrincipalFromRequest extracts the CreatorPrincipal this request is
// acting as. Real deployments would authenticate this against a session
// or API key; that exchange is a collaborator concern (§1) — callers of
// this package supply an already-authenticated creator id.
func PrincipalFromRequest(r *http.Request) (creator.Principal, error) {
	raw := r.Header.Get(PrincipalHeader)
	if raw == "" {
		return creator.Principal{}, fmt.Errorf("missing %s header", PrincipalHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return creator.Principal{}, fmt.Errorf("invalid %s header: %w", PrincipalHeader, err)
	}
	return creator.NewPrincipal(id), nil
}
