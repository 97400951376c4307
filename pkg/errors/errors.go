// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrAdminRequired      = errors.New("admin privileges required")
	ErrPasswordMismatch   = errors.New("password confirmation does not match")
	ErrTOTPRequired       = errors.New("totp code required")
	ErrTOTPInvalid        = errors.New("invalid totp code")
	ErrVerifyTokenInvalid = errors.New("verification token invalid or expired")

	// Ledger errors
	ErrInvalidAmount       = errors.New("amount must be a positive number")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrRateNotAvailable    = errors.New("reference asset rate not available")

	// Withdrawal wizard errors
	ErrCaseNotFound       = errors.New("withdrawal case not found")
	ErrStepNotConfirmed   = errors.New("current step not confirmed by admin")
	ErrStepOutOfRange     = errors.New("step index out of range")
	ErrProofLocked        = errors.New("proof already confirmed; re-upload not allowed")
	ErrProofRequired      = errors.New("proof upload required before approval")
	ErrProofInvalid       = errors.New("proof must be an image data url")
	ErrApprovalOutOfOrder = errors.New("earlier steps must be approved first")
	ErrNoticeDispatch     = errors.New("unable to send notification email")

	// Funding application errors
	ErrApplicationNotFound = errors.New("funding application not found")
	ErrInvalidDecision     = errors.New("decision must be approved or rejected")

	// Request errors
	ErrDuplicateRequest = errors.New("duplicate request")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
