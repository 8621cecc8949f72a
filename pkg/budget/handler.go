package budget

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaypost/relaypost/internal/httpserver"
	"github.com/relaypost/relaypost/internal/relayerr"
)

// Handler exposes the Budget Guard's status(creator, month) read model.
type Handler struct {
	guard  *Guard
	logger *slog.Logger
}

func NewHandler(guard *Guard, logger *slog.Logger) *Handler {
	return &Handler{guard: guard, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{month}", h.handleStatus)
	return r
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, err := httpserver.PrincipalFromRequest(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	month := chi.URLParam(r, "month")

	status, err := h.guard.Status(r.Context(), p, month)
	if err != nil {
		if relErr, ok := relayerr.As(err); ok {
			httpserver.RespondError(w, http.StatusUnprocessableEntity, relErr.Kind.String(), relErr.Message)
			return
		}
		h.logger.Error("loading budget status", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
		return
	}
	httpserver.Respond(w, http.StatusOK, status)
}
