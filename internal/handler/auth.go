package handler

import (
	"net/http"
	"strings"

	"qfs/internal/auth"
	"qfs/internal/middleware"
	"qfs/pkg/logger"
	"qfs/pkg/validator"
)

// AuthHandler handles registration, sessions, and credential management.
type AuthHandler struct {
	service   *auth.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewAuthHandler(service *auth.Service, val *validator.Validator, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// SignUp creates a new account and sends the verification email.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}

	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	profile, err := h.service.SignUp(r.Context(), &req)
	if err != nil {
		h.logger.Warn("Sign-up failed", map[string]interface{}{"error": err.Error()})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    profile,
		"message": "Verification email sent",
	})
}

// VerifyEmail consumes the emailed token.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// SignIn authenticates and issues a token.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}

	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	response, err := h.service.SignIn(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// SignOut revokes the presented token.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		respondError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}

	if err := h.service.SignOut(r.Context(), parts[1]); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	profile, err := h.service.CurrentUser(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdateProfile edits the caller's display name, username, or avatar.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	// Avatars arrive as data URLs; allow up to 4MB.
	var req auth.UpdateProfileRequest
	if !decodeJSON(w, r, &req, 4<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), identity.UserID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// ChangePassword rotates the password after reauthentication.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req auth.ChangePasswordRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}

	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	if err := h.service.ChangePassword(r.Context(), identity.UserID, &req); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

// EnrollTOTP provisions a second-factor secret.
func (h *AuthHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	enrollment, err := h.service.EnrollTOTP(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, enrollment)
}

// ActivateTOTP turns the second factor on.
func (h *AuthHandler) ActivateTOTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req struct {
		Code string `json:"code" validate:"required,len=6"`
	}
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	if err := h.service.ActivateTOTP(r.Context(), identity.UserID, req.Code); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "TOTP enabled"})
}
