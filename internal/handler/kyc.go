package handler

import (
	"net/http"

	"qfs/internal/kyc"
	"qfs/internal/middleware"
	"qfs/pkg/logger"
	"qfs/pkg/validator"
)

// KYCHandler exposes identity verification.
type KYCHandler struct {
	service   *kyc.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewKYCHandler(service *kyc.Service, val *validator.Validator, log logger.Logger) *KYCHandler {
	return &KYCHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Submit files the verification form.
func (h *KYCHandler) Submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	// Two ID images as data URLs; allow up to 8MB.
	var req kyc.SubmitRequest
	if !decodeJSON(w, r, &req, 8<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	record, err := h.service.Submit(r.Context(), identity.UserID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

// Record returns the caller's verification record.
func (h *KYCHandler) Record(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	record, err := h.service.Record(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if record == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "unset"})
		return
	}
	respondJSON(w, http.StatusOK, record)
}
