package handler

import (
	"net/http"

	"qfs/internal/admin"
	"qfs/internal/domain"
	"qfs/internal/withdrawal"
	"qfs/pkg/logger"
	"qfs/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// AdminHandler exposes the operator console endpoints. Routing gates them
// behind RequireAdmin.
type AdminHandler struct {
	service    *admin.Service
	withdrawal *withdrawal.Service
	validator  *validator.Validator
	logger     logger.Logger
}

func NewAdminHandler(service *admin.Service, withdrawalSvc *withdrawal.Service, val *validator.Validator, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		service:    service,
		withdrawal: withdrawalSvc,
		validator:  val,
		logger:     log,
	}
}

// ListUsers returns every account profile.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListUsers(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"users": profiles})
}

// ConfirmDepositRequest credits a user after an off-platform deposit is
// verified.
type ConfirmDepositRequest struct {
	AmountUSD decimal.Decimal `json:"amountUSD" validate:"gt=0"`
}

// ConfirmDeposit credits the user and records the deposit transaction.
func (h *AdminHandler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req ConfirmDepositRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	tx, err := h.service.ConfirmDeposit(r.Context(), userID, req.AmountUSD)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

// ApproveStepRequest marks one wizard step confirmed.
type ApproveStepRequest struct {
	Step int `json:"step" validate:"min=0,max=3"`
}

// ApproveStep confirms a withdrawal wizard step.
func (h *AdminHandler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req ApproveStepRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	c, err := h.service.ApproveStep(r.Context(), userID, req.Step)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListCases returns every withdrawal case.
func (h *AdminHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.withdrawal.ListCases(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

// ReviewApplicationRequest records a funding decision.
type ReviewApplicationRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Notes    string `json:"notes" validate:"max=2000"`
}

// ReviewApplication approves or rejects a funding application.
func (h *AdminHandler) ReviewApplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ReviewApplicationRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	app, err := h.service.ReviewApplication(r.Context(), id, domain.ApplicationStatus(req.Decision), req.Notes)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

// Policy returns the withdrawal approval policy.
func (h *AdminHandler) Policy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.service.WithdrawalPolicy(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

// SetPolicy updates the withdrawal approval policy.
func (h *AdminHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var policy domain.WithdrawalPolicy
	if !decodeJSON(w, r, &policy, 1<<20) {
		return
	}

	if err := h.service.SetWithdrawalPolicy(r.Context(), &policy); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &policy)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(mux.Vars(r)["userId"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return uuid.Nil, false
	}
	return userID, true
}
