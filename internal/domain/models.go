// Package domain defines the document shapes stored for the banking product.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Collection names in the document store.
const (
	CollectionUsers        = "users"
	CollectionTransactions = "transactions"
	CollectionWithdrawals  = "withdrawals"
	CollectionFunding      = "fundingApplications"
	CollectionAppSettings  = "appSettings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the identity document, keyed by the auth identity id.
// Balance is mutated only by admin-confirmed deposits and the withdrawal
// flow; the KYC record is embedded rather than stored in its own collection.
type User struct {
	ID            uuid.UUID       `json:"uid"`
	Name          string          `json:"name"`
	Username      string          `json:"username"`
	Email         string          `json:"email"`
	EmailVerified bool            `json:"emailVerified"`
	PasswordHash  string          `json:"passwordHash,omitempty"`
	Role          Role            `json:"role"`
	BalanceUSD    decimal.Decimal `json:"balanceUSD"`
	Avatar        string          `json:"avatar"`
	TOTPSecret    string          `json:"totpSecret,omitempty"`
	TOTPEnabled   bool            `json:"totpEnabled"`
	VerifyToken   string          `json:"verifyToken,omitempty"`
	VerifyExpires *time.Time      `json:"verifyExpires,omitempty"`
	KYC           *KYCRecord      `json:"kyc,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Profile is the client-facing view of a User, with credentials and
// verification material stripped.
type Profile struct {
	ID            uuid.UUID       `json:"uid"`
	Name          string          `json:"name"`
	Username      string          `json:"username"`
	Email         string          `json:"email"`
	EmailVerified bool            `json:"emailVerified"`
	Role          Role            `json:"role"`
	BalanceUSD    decimal.Decimal `json:"balanceUSD"`
	Avatar        string          `json:"avatar"`
	TOTPEnabled   bool            `json:"totpEnabled"`
	KYCStatus     KYCStatus       `json:"kycStatus"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func (u *User) Profile() *Profile {
	status := KYCStatusUnset
	if u.KYC != nil {
		status = u.KYC.Status
	}
	return &Profile{
		ID:            u.ID,
		Name:          u.Name,
		Username:      u.Username,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Role:          u.Role,
		BalanceUSD:    u.BalanceUSD,
		Avatar:        u.Avatar,
		TOTPEnabled:   u.TOTPEnabled,
		KYCStatus:     status,
		CreatedAt:     u.CreatedAt,
	}
}

type KYCStatus string

const (
	KYCStatusUnset     KYCStatus = "unset"
	KYCStatusSubmitted KYCStatus = "submitted"
)

// KYCRecord holds the identity details captured by the verification wizard.
type KYCRecord struct {
	Status       KYCStatus `json:"status"`
	FullName     string    `json:"fullname"`
	DateOfBirth  string    `json:"dob"`
	Address      string    `json:"address"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Zip          string    `json:"zip"`
	SSN          string    `json:"ssn"`
	LicenseFront string    `json:"licenseFront"`
	LicenseBack  string    `json:"licenseBack"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
)

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "Success"
)

// Transaction is append-only; only Status may change after creation, and
// only through admin action.
type Transaction struct {
	ID        string            `json:"id"`
	UserID    uuid.UUID         `json:"userId"`
	Kind      TransactionKind   `json:"type"`
	AmountUSD decimal.Decimal   `json:"amountUSD"`
	AmountBTC decimal.Decimal   `json:"amountBTC"`
	Coin      string            `json:"coin,omitempty"`
	Address   string            `json:"address,omitempty"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
}

// WithdrawalSteps is the fixed length of the processing wizard.
const WithdrawalSteps = 4

// WithdrawalCase tracks one user's progress through the processing wizard.
// Proofs and NoticesSent are keyed by the decimal step index / notice key
// so the document round-trips cleanly through JSON.
type WithdrawalCase struct {
	UserID         uuid.UUID         `json:"userId"`
	Step           int               `json:"step"`
	AdminConfirmed []bool            `json:"adminConfirmed"`
	Proofs         map[string]string `json:"proofs"`
	NoticesSent    map[string]bool   `json:"emailsSent"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewWithdrawalCase returns the initial wizard state for a user.
func NewWithdrawalCase(userID uuid.UUID, now time.Time) *WithdrawalCase {
	return &WithdrawalCase{
		UserID:         userID,
		Step:           0,
		AdminConfirmed: make([]bool, WithdrawalSteps),
		Proofs:         map[string]string{},
		NoticesSent:    map[string]bool{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Confirmed reports whether the given step has been admin-confirmed.
// Cases written by older clients may carry a short array.
func (c *WithdrawalCase) Confirmed(step int) bool {
	if step < 0 || step >= len(c.AdminConfirmed) {
		return false
	}
	return c.AdminConfirmed[step]
}

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// FundingApplication mirrors the funding request form: a personal info
// block, the funding terms, and a free-text usage description.
type FundingApplication struct {
	ID           string            `json:"id"`
	UserID       uuid.UUID         `json:"userId"`
	PersonalInfo PersonalInfo      `json:"personalInfo"`
	FundingInfo  FundingInfo       `json:"fundingInfo"`
	Usage        UsageInfo         `json:"usage"`
	Status       ApplicationStatus `json:"status"`
	AdminNotes   string            `json:"adminNotes,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	ReviewedAt   *time.Time        `json:"reviewedAt,omitempty"`
}

type PersonalInfo struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type FundingInfo struct {
	Purpose               string          `json:"purpose"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PaybackDurationMonths int             `json:"paybackDurationMonths"`
}

type UsageInfo struct {
	Description string `json:"description"`
}

// WithdrawalPolicy configures how admin confirmation behaves. Both knobs
// default to off, matching the historical behavior where an admin could
// confirm any step in any order without an uploaded proof.
type WithdrawalPolicy struct {
	RequireProof      bool `json:"requireProof"`
	MonotonicApproval bool `json:"monotonicApproval"`
}

// WithdrawalPolicyDocID is the appSettings document holding the policy.
const WithdrawalPolicyDocID = "withdrawalPolicy"
