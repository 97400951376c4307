package handler

import (
	"net/http"

	"qfs/internal/ledger"
	"qfs/internal/middleware"
	"qfs/pkg/logger"
	"qfs/pkg/validator"

	"github.com/shopspring/decimal"
)

// LedgerHandler exposes balance, history, and withdrawal requests.
type LedgerHandler struct {
	service   *ledger.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewLedgerHandler(service *ledger.Service, val *validator.Validator, log logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// Balance returns the caller's current balance.
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	balance, err := h.service.Balance(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"balanceUSD": balance})
}

// Transactions returns the caller's history, newest first.
func (h *LedgerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	txs, err := h.service.Transactions(r.Context(), identity.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// WithdrawRequest is the withdrawal request form.
type WithdrawRequest struct {
	AmountUSD decimal.Decimal `json:"amountUSD" validate:"gt=0"`
	Coin      string          `json:"coin" validate:"omitempty,uppercase,min=2,max=10"`
	Address   string          `json:"address" validate:"required,min=10,max=128"`
}

// Withdraw files a pending withdrawal request. The balance stays untouched
// until the processing wizard completes.
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req WithdrawRequest
	if !decodeJSON(w, r, &req, 1<<20) {
		return
	}
	if valErrs := h.validator.ValidateStructured(&req); valErrs != nil {
		respondValidationErrors(w, valErrs)
		return
	}

	tx, err := h.service.AddPendingWithdrawal(r.Context(), identity.UserID, req.AmountUSD, req.Coin, req.Address)
	if err != nil {
		h.logger.Warn("Withdrawal request failed", map[string]interface{}{
			"user_id": identity.UserID.String(),
			"error":   err.Error(),
		})
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}
