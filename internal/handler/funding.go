package handler

import (
	"net/http"

	"qfs/internal/funding"
	"qfs/internal/middleware"
	"qfs/pkg/logger"
	"qfs/pkg/validator"
)

// FundingHandler exposes funding applications.
type FundingHandler struct {
	service   *funding.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewFundingHandler(service *funding.Service, val *validator.Validator, log logger.Logger) *FundingHandler {
	return &FundingHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Apply files a funding application.
func (h *FundingHandler) Apply(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req funding.ApplyRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	app, err := h.service.Apply(r.Context(), identity.UserID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, app)
}

// Mine lists the caller's applications.
func (h *FundingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	apps, err := h.service.Mine(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"applications": apps})
}
