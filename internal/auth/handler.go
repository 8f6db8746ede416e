package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes API key management to authenticated callers.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/keys", h.issueKey)
	r.Delete("/keys/{id}", h.revokeKey)
}

type issueKeyRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type issueKeyResponse struct {
	Key    APIKey `json:"key"`
	Secret string `json:"secret"`
}

func (h *Handler) issueKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req issueKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	key, secret, err := h.service.Issue(r.Context(), identity, req.Name)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	// The raw secret is returned exactly once.
	httpx.JSON(w, http.StatusCreated, issueKeyResponse{Key: key, Secret: secret})
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	keyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || keyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid key id")
		return
	}
	if err := h.service.Revoke(r.Context(), identity, keyID); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrInvalidOperation) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Operation", err.Error())
		return
	}
	h.logger.Error("auth request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}
