package webhookingress

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaypost/relaypost/internal/httpserver"
)

// Handler exposes the Webhook Ingress pipeline as one route per provider.
// Signature headers differ per platform in the real world (collaborator
// concern, §1); this handler reads the two headers the verification
// scheme needs under their generic names and leaves per-provider header
// translation to a reverse proxy or a thin per-platform wrapper.
type Handler struct {
	ingress *Ingress
	parsers map[string]PayloadParser
	logger  *slog.Logger
}

func NewHandler(ingress *Ingress, parsers map[string]PayloadParser, logger *slog.Logger) *Handler {
	return &Handler{ingress: ingress, parsers: parsers, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.handleWebhook)
	return r
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	parse, ok := h.parsers[provider]
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "unknown_provider", "no such provider")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "read_error", "could not read request body")
		return
	}

	req := InboundRequest{
		Provider:        provider,
		RawBody:         body,
		SignatureHeader: r.Header.Get("X-Signature"),
		TimestampHeader: r.Header.Get("X-Signature-Timestamp"),
	}

	if err := h.ingress.Handle(r.Context(), req, parse); err != nil {
		if errors.Is(err, ErrMalformed) {
			httpserver.RespondError(w, http.StatusBadRequest, "malformed_payload", "request body could not be parsed")
			return
		}
		h.logger.Error("webhook ingress", "provider", provider, "error", err)
	}

	// Per §4.5's response policy, every other outcome — including
	// signature failure, unroutable mapping, and signal delivery
	// failure — responds 200 so probes can't distinguish them.
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "accepted"})
}
