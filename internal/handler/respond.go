// Package handler provides the HTTP handlers for the banking API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	qfserrors "qfs/pkg/errors"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}

// decodeJSON reads a request body into dst with the limits every endpoint
// shares. Image-carrying endpoints pass a larger cap.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// respondServiceError maps sentinel errors onto HTTP statuses; anything
// unrecognized is a 500 with a generic message.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, qfserrors.ErrNotAuthenticated):
		respondError(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, qfserrors.ErrAdminRequired):
		respondError(w, http.StatusForbidden, "Admin privileges required")
	case errors.Is(err, qfserrors.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, qfserrors.ErrEmailNotVerified):
		respondError(w, http.StatusForbidden, "Email not verified")
	case errors.Is(err, qfserrors.ErrTOTPRequired):
		respondError(w, http.StatusUnauthorized, "TOTP code required")
	case errors.Is(err, qfserrors.ErrTOTPInvalid):
		respondError(w, http.StatusUnauthorized, "Invalid TOTP code")
	case errors.Is(err, qfserrors.ErrPasswordMismatch):
		respondError(w, http.StatusBadRequest, "Password confirmation does not match")
	case errors.Is(err, qfserrors.ErrVerifyTokenInvalid):
		respondError(w, http.StatusBadRequest, "Verification token invalid or expired")
	case errors.Is(err, qfserrors.ErrUserAlreadyExists):
		respondError(w, http.StatusConflict, "User already exists")
	case errors.Is(err, qfserrors.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, qfserrors.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, "Amount must be a positive number")
	case errors.Is(err, qfserrors.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, "Insufficient balance")
	case errors.Is(err, qfserrors.ErrCaseNotFound):
		respondError(w, http.StatusNotFound, "Withdrawal case not found")
	case errors.Is(err, qfserrors.ErrStepNotConfirmed):
		respondError(w, http.StatusConflict, "Current step not confirmed by admin")
	case errors.Is(err, qfserrors.ErrStepOutOfRange):
		respondError(w, http.StatusBadRequest, "Step index out of range")
	case errors.Is(err, qfserrors.ErrProofLocked):
		respondError(w, http.StatusConflict, "Proof already confirmed; re-upload not allowed")
	case errors.Is(err, qfserrors.ErrProofRequired):
		respondError(w, http.StatusConflict, "Proof upload required before approval")
	case errors.Is(err, qfserrors.ErrProofInvalid):
		respondError(w, http.StatusBadRequest, "Proof must be an image data url")
	case errors.Is(err, qfserrors.ErrApprovalOutOfOrder):
		respondError(w, http.StatusConflict, "Earlier steps must be approved first")
	case errors.Is(err, qfserrors.ErrNoticeDispatch):
		respondError(w, http.StatusBadGateway, "Unable to send notification email")
	case errors.Is(err, qfserrors.ErrApplicationNotFound):
		respondError(w, http.StatusNotFound, "Funding application not found")
	case errors.Is(err, qfserrors.ErrInvalidDecision):
		respondError(w, http.StatusBadRequest, "Decision must be approved or rejected")
	case errors.Is(err, qfserrors.ErrRateNotAvailable):
		respondError(w, http.StatusServiceUnavailable, "Reference asset rate not available")
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
