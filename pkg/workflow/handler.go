package workflow

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaypost/relaypost/internal/httpserver"
	"github.com/relaypost/relaypost/internal/relayerr"
)

// Handler provides HTTP handlers for the Post submission lifecycle (§4.4).
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSubmit)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

type submitRequest struct {
	AccountID   string     `json:"account_id"`
	Platform    string     `json:"platform"`
	MediaRef    string     `json:"media_ref"`
	Caption     string     `json:"caption"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, err := httpserver.PrincipalFromRequest(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "malformed_body", err.Error())
		return
	}

	created, err := h.engine.Submit(r.Context(), p, SubmitRequest{
		AccountID:   req.AccountID,
		Platform:    req.Platform,
		MediaRef:    req.MediaRef,
		Caption:     req.Caption,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := httpserver.PrincipalFromRequest(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	found, err := h.engine.Get(r.Context(), p, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, found)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	p, err := httpserver.PrincipalFromRequest(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if err := h.engine.Cancel(r.Context(), p, id); err != nil {
		h.respondError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	relErr, ok := relayerr.As(err)
	if !ok {
		h.logger.Error("workflow handler error", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
		return
	}
	status := http.StatusUnprocessableEntity
	switch relErr.Kind {
	case relayerr.KindValidation:
		status = http.StatusBadRequest
	case relayerr.KindIntegrity:
		status = http.StatusConflict
	}
	httpserver.RespondError(w, status, relErr.Kind.String(), relErr.Message)
}
