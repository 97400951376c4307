package handler

import (
	"net/http"

	"qfs/internal/middleware"
	"qfs/internal/withdrawal"
	"qfs/pkg/logger"
	"qfs/pkg/validator"
)

// WithdrawalHandler exposes the processing wizard.
type WithdrawalHandler struct {
	service   *withdrawal.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewWithdrawalHandler(service *withdrawal.Service, val *validator.Validator, log logger.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Case returns the caller's wizard state, creating it on first access.
func (h *WithdrawalHandler) Case(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	c, err := h.service.GetOrCreate(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// UploadProofRequest carries one payment proof image as a data URL.
type UploadProofRequest struct {
	Step  int    `json:"step" validate:"min=0,max=3"`
	Image string `json:"image" validate:"required,image_data_url"`
}

// UploadProof attaches a proof image to a step.
func (h *WithdrawalHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	// Data URLs are large; allow up to 4MB here.
	var req UploadProofRequest
	if !decodeJSON(w, r, &req, 4<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	c, err := h.service.UploadProof(r.Context(), identity.UserID, req.Step, req.Image)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Proceed attempts to advance the wizard one step.
func (h *WithdrawalHandler) Proceed(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	result, err := h.service.Proceed(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Warn("Wizard advance failed", map[string]interface{}{
			"user_id": identity.UserID.String(),
			"error":   err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
