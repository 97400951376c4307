// Package withdrawal implements the multi-step processing wizard a
// withdrawal request moves through before funds are released. Each user has
// at most one case; the step index only moves forward, and each advance is
// gated on an admin confirmation recorded against the current step.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/notification"
	qfserrors "qfs/pkg/errors"

	"github.com/google/uuid"
)

// maxProofBytes caps an uploaded proof image (as a data URL).
const maxProofBytes = 2 << 20

// Notices dispatches fee notice emails. notification.Service satisfies it.
type Notices interface {
	Send(key notification.Key, recipient string, params notification.Params) error
}

type Service struct {
	store   docstore.Store
	notices Notices
	now     func() time.Time
}

func NewService(store docstore.Store, notices Notices) *Service {
	return &Service{store: store, notices: notices, now: time.Now}
}

// notice describes the fee email owed when leaving a step. Steps without an
// entry advance silently.
type notice struct {
	key    notification.Key
	amount string
}

var stepNotices = map[int]notice{
	0: {key: notification.KeyTaxFee, amount: "$1,200"},
	1: {key: notification.KeyFinalClearance, amount: "$800"},
}

// serviceFeeAmount is the one-time processing fee owed when a withdrawal
// request is filed.
const serviceFeeAmount = "$650"

// GetOrCreate returns the user's case, creating the initial one on first
// access.
func (s *Service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.WithdrawalCase, error) {
	c, err := s.get(ctx, userID)
	if err == nil {
		return c, nil
	}
	if err != qfserrors.ErrCaseNotFound {
		return nil, err
	}

	fresh := domain.NewWithdrawalCase(userID, s.now())
	data, err := docstore.DataFrom(fresh)
	if err != nil {
		return nil, err
	}
	err = s.store.Apply(ctx, docstore.AddCommand{
		Collection: domain.CollectionWithdrawals,
		ID:         userID.String(),
		Data:       data,
	})
	if err != nil && err != docstore.ErrAlreadyExists {
		return nil, qfserrors.Wrap(err, "failed to create withdrawal case")
	}
	// Lost creation races resolve to the winner's document.
	return s.get(ctx, userID)
}

// RecordRequest ensures the case backing a new withdrawal request exists
// and dispatches the one-time service fee notice. The sent flag commits
// with an absence precondition, so concurrent requests record it once.
func (s *Service) RecordRequest(ctx context.Context, userID uuid.UUID) (*domain.WithdrawalCase, error) {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.NoticesSent[string(notification.KeyServiceFee)] {
		return c, nil
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.notices.Send(notification.KeyServiceFee, user.Email, notification.Params{
		Name:   user.Name,
		Amount: serviceFeeAmount,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", qfserrors.ErrNoticeDispatch, err)
	}

	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionWithdrawals,
		ID:         userID.String(),
		Fields: map[string]interface{}{
			"emailsSent": map[string]interface{}{string(notification.KeyServiceFee): true},
			"updatedAt":  s.now().Format(time.RFC3339Nano),
		},
		Conditions: []docstore.Condition{
			{Path: "emailsSent." + string(notification.KeyServiceFee), Op: docstore.CondAbsent},
		},
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		// A concurrent request recorded the notice first.
		return s.get(ctx, userID)
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to record fee notice")
	}
	return s.get(ctx, userID)
}

// UploadProof attaches a payment proof image to a step. Once an admin has
// confirmed the step, its proof is locked and cannot be replaced.
func (s *Service) UploadProof(ctx context.Context, userID uuid.UUID, step int, image string) (*domain.WithdrawalCase, error) {
	if step < 0 || step >= domain.WithdrawalSteps {
		return nil, qfserrors.ErrStepOutOfRange
	}
	if !validProofImage(image) {
		return nil, qfserrors.ErrProofInvalid
	}

	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.Confirmed(step) {
		return nil, qfserrors.ErrProofLocked
	}

	key := strconv.Itoa(step)
	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionWithdrawals,
		ID:         userID.String(),
		Fields: map[string]interface{}{
			"proofs":    map[string]interface{}{key: image},
			"updatedAt": s.now().Format(time.RFC3339Nano),
		},
		// Re-checked at commit time: a confirmation landing after the
		// read above must not let the proof replace a locked one.
		Conditions: []docstore.Condition{
			{Path: "adminConfirmed." + key, Op: docstore.CondEq, Value: false},
		},
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return nil, qfserrors.ErrProofLocked
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to store proof")
	}
	return s.get(ctx, userID)
}

// ProceedResult reports the outcome of one advance attempt. RedirectToKYC
// is set at the final step, where the wizard hands off to identity
// verification instead of mutating the case.
type ProceedResult struct {
	Case          *domain.WithdrawalCase `json:"case"`
	RedirectToKYC bool                   `json:"redirectToKyc"`
}

// Proceed advances the case one step. The current step must already be
// admin-confirmed. Leaving steps 0 and 1 dispatches a one-time fee notice;
// the sent flag and the step advance commit atomically with a precondition
// on the current step, so a dispatch failure leaves the case exactly where
// it was.
func (s *Service) Proceed(ctx context.Context, userID uuid.UUID) (*ProceedResult, error) {
	c, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if c.Step >= domain.WithdrawalSteps-1 {
		return &ProceedResult{Case: c, RedirectToKYC: true}, nil
	}

	if !c.Confirmed(c.Step) {
		return nil, qfserrors.ErrStepNotConfirmed
	}

	fields := map[string]interface{}{
		"step":      c.Step + 1,
		"updatedAt": s.now().Format(time.RFC3339Nano),
	}

	if n, ok := stepNotices[c.Step]; ok && !c.NoticesSent[string(n.key)] {
		user, err := s.getUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.notices.Send(n.key, user.Email, notification.Params{
			Name:   user.Name,
			Amount: n.amount,
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", qfserrors.ErrNoticeDispatch, err)
		}
		fields["emailsSent"] = map[string]interface{}{string(n.key): true}
	}

	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionWithdrawals,
		ID:         userID.String(),
		Fields:     fields,
		Conditions: []docstore.Condition{
			{Path: "step", Op: docstore.CondEq, Value: c.Step},
		},
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		// Someone advanced the case between read and commit; serve the
		// current state.
		current, gerr := s.get(ctx, userID)
		if gerr != nil {
			return nil, gerr
		}
		return &ProceedResult{Case: current}, nil
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to advance case")
	}

	current, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ProceedResult{Case: current}, nil
}

// ListCases returns every open case, for the admin console.
func (s *Service) ListCases(ctx context.Context) ([]*domain.WithdrawalCase, error) {
	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionWithdrawals,
		OrderBy:    "updatedAt",
		Descending: true,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to list cases")
	}

	cases := make([]*domain.WithdrawalCase, 0, len(docs))
	for _, doc := range docs {
		var c domain.WithdrawalCase
		if err := doc.DataTo(&c); err != nil {
			return nil, err
		}
		cases = append(cases, &c)
	}
	return cases, nil
}

// Subscribe streams the user's case as it changes.
func (s *Service) Subscribe(ctx context.Context, userID uuid.UUID, fn func(*domain.WithdrawalCase)) (docstore.Subscription, error) {
	return s.store.SubscribeDocument(ctx, domain.CollectionWithdrawals, userID.String(), func(doc *docstore.Document) {
		var c domain.WithdrawalCase
		if err := doc.DataTo(&c); err != nil {
			return
		}
		fn(&c)
	})
}

func (s *Service) get(ctx context.Context, userID uuid.UUID) (*domain.WithdrawalCase, error) {
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
	return &c, nil
}

func (s *Service) getUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	doc, err := s.store.Get(ctx, domain.CollectionUsers, userID.String())
	if err == docstore.ErrNotFound {
		return nil, qfserrors.ErrUserNotFound
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to load user")
	}

	var user domain.User
	if err := doc.DataTo(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func validProofImage(image string) bool {
	return strings.HasPrefix(image, "data:image/") &&
		strings.Contains(image, ";base64,") &&
		len(image) <= maxProofBytes
}
