// Package admin implements the operator console: user listing, deposit
// confirmation, withdrawal step approval, and funding application review.
package admin

import (
	"context"
	"errors"
	"strconv"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/funding"
	"qfs/internal/ledger"
	"qfs/internal/withdrawal"
	qfserrors "qfs/pkg/errors"
	"qfs/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	store   docstore.Store
	ledger  *ledger.Service
	funding *funding.Service
	logger  logger.Logger
	now     func() time.Time
}

func NewService(store docstore.Store, ledgerSvc *ledger.Service, fundingSvc *funding.Service, log logger.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  ledgerSvc,
		funding: fundingSvc,
		logger:  log,
		now:     time.Now,
	}
}

// ListUsers returns every profile, newest account first.
func (s *Service) ListUsers(ctx context.Context) ([]*domain.Profile, error) {
	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionUsers,
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to list users")
	}

	profiles := make([]*domain.Profile, 0, len(docs))
	for _, doc := range docs {
		var user domain.User
		if err := doc.DataTo(&user); err != nil {
			return nil, err
		}
		profiles = append(profiles, user.Profile())
	}
	return profiles, nil
}

// ConfirmDeposit credits a user's balance and records the success deposit
// transaction in one commit, at the live rate.
func (s *Service) ConfirmDeposit(ctx context.Context, userID uuid.UUID, amountUSD decimal.Decimal) (*domain.Transaction, error) {
	tx, err := s.ledger.AddTransaction(ctx, userID, domain.KindDeposit, amountUSD)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deposit confirmed", map[string]interface{}{
		"user_id":    userID.String(),
		"amount_usd": amountUSD.String(),
		"amount_btc": tx.AmountBTC.String(),
	})
	return tx, nil
}

// ApproveStep marks a wizard step admin-confirmed, subject to the
// configured policy. With both knobs off (the default) any step may be
// confirmed in any order, with or without an uploaded proof.
func (s *Service) ApproveStep(ctx context.Context, userID uuid.UUID, step int) (*domain.WithdrawalCase, error) {
	if step < 0 || step >= domain.WithdrawalSteps {
		return nil, qfserrors.ErrStepOutOfRange
	}

	doc, err := s.store.Get(ctx, domain.CollectionWithdrawals, userID.String())
	if err == docstore.ErrNotFound {
		return nil, qfserrors.ErrCaseNotFound
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to load withdrawal case")
	}

	var c domain.WithdrawalCase
	if err := doc.DataTo(&c); err != nil {
		return nil, err
	}

	policy, err := withdrawal.LoadPolicy(ctx, s.store)
	if err != nil {
		return nil, err
	}
	if policy.RequireProof && c.Proofs[strconv.Itoa(step)] == "" {
		return nil, qfserrors.ErrProofRequired
	}
	if policy.MonotonicApproval {
		for i := 0; i < step; i++ {
			if !c.Confirmed(i) {
				return nil, qfserrors.ErrApprovalOutOfOrder
			}
		}
	}

	confirmed := make([]bool, domain.WithdrawalSteps)
	copy(confirmed, c.AdminConfirmed)
	confirmed[step] = true
	confirmedJSON := make([]interface{}, len(confirmed))
	for i, v := range confirmed {
		confirmedJSON[i] = v
	}

	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionWithdrawals,
		ID:         userID.String(),
		Fields: map[string]interface{}{
			"adminConfirmed": confirmedJSON,
			"updatedAt":      s.now().Format(time.RFC3339Nano),
		},
		Conditions: []docstore.Condition{
			{Path: "step", Op: docstore.CondEq, Value: c.Step},
		},
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		// The case advanced underneath us; the admin re-reads and retries.
		return nil, qfserrors.Wrap(err, "case changed during approval")
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to record approval")
	}

	s.logger.Info("Withdrawal step approved", map[string]interface{}{
		"user_id": userID.String(),
		"step":    step,
	})

	updated, err := s.store.Get(ctx, domain.CollectionWithdrawals, userID.String())
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to reload withdrawal case")
	}
	var out domain.WithdrawalCase
	if err := updated.DataTo(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReviewApplication records a funding decision.
func (s *Service) ReviewApplication(ctx context.Context, id string, decision domain.ApplicationStatus, notes string) (*domain.FundingApplication, error) {
	return s.funding.Review(ctx, id, decision, notes)
}

// SetWithdrawalPolicy updates the approval policy knobs.
func (s *Service) SetWithdrawalPolicy(ctx context.Context, policy *domain.WithdrawalPolicy) error {
	return withdrawal.SavePolicy(ctx, s.store, policy)
}

// WithdrawalPolicy returns the active policy.
func (s *Service) WithdrawalPolicy(ctx context.Context) (*domain.WithdrawalPolicy, error) {
	return withdrawal.LoadPolicy(ctx, s.store)
}
