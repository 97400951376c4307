package admin

import (
	"context"
	"testing"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/funding"
	"qfs/internal/ledger"
	"qfs/internal/notification"
	"qfs/internal/withdrawal"
	qfserrors "qfs/pkg/errors"
	"qfs/pkg/logger"
	"qfs/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Current(ctx context.Context) decimal.Decimal { return f.rate }

type noopNotices struct{}

func (noopNotices) Send(key notification.Key, recipient string, params notification.Params) error {
	return nil
}

func newFixture(t *testing.T) (*Service, docstore.Store, *withdrawal.Service, uuid.UUID) {
	t.Helper()
	store := docstore.NewMemoryStore()
	withdrawalSvc := withdrawal.NewService(store, noopNotices{})
	ledgerSvc := ledger.NewService(store, fixedRate{decimal.NewFromInt(68000)}, withdrawalSvc)
	fundingSvc := funding.NewService(store, validator.New())
	svc := NewService(store, ledgerSvc, fundingSvc, logger.NewNop())

	userID := uuid.New()
	user := &domain.User{
		ID:         userID,
		Name:       "Ada",
		Email:      "ada@example.com",
		Role:       domain.RoleUser,
		BalanceUSD: decimal.Zero,
		CreatedAt:  time.Now(),
	}
	data, err := docstore.DataFrom(user)
	require.NoError(t, err)
	require.NoError(t, store.Apply(context.Background(), docstore.SetCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Data:       data,
	}))

	return svc, store, withdrawalSvc, userID
}

func TestConfirmDeposit(t *testing.T) {
	svc, store, _, userID := newFixture(t)
	ctx := context.Background()

	tx, err := svc.ConfirmDeposit(ctx, userID, decimal.NewFromInt(500))
	require.NoError(t, err)

	assert.Equal(t, domain.KindDeposit, tx.Kind)
	assert.Equal(t, domain.StatusSuccess, tx.Status)
	assert.Equal(t, "500", tx.AmountUSD.String())
	assert.Equal(t, "0.00735", tx.AmountBTC.String())

	doc, err := store.Get(ctx, domain.CollectionUsers, userID.String())
	require.NoError(t, err)
	var user domain.User
	require.NoError(t, doc.DataTo(&user))
	assert.Equal(t, "500", user.BalanceUSD.String())

	_, err = svc.ConfirmDeposit(ctx, userID, decimal.Zero)
	assert.ErrorIs(t, err, qfserrors.ErrInvalidAmount)
}

func TestApproveStepDefaultPolicy(t *testing.T) {
	svc, _, withdrawalSvc, userID := newFixture(t)
	ctx := context.Background()

	_, err := withdrawalSvc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	// Out of order, no proof: allowed by default.
	c, err := svc.ApproveStep(ctx, userID, 2)
	require.NoError(t, err)
	assert.True(t, c.Confirmed(2))
	assert.False(t, c.Confirmed(0))

	c, err = svc.ApproveStep(ctx, userID, 0)
	require.NoError(t, err)
	assert.True(t, c.Confirmed(0))
	assert.True(t, c.Confirmed(2))
}

func TestApproveStepPolicyKnobs(t *testing.T) {
	svc, _, withdrawalSvc, userID := newFixture(t)
	ctx := context.Background()

	_, err := withdrawalSvc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, svc.SetWithdrawalPolicy(ctx, &domain.WithdrawalPolicy{
		RequireProof:      true,
		MonotonicApproval: true,
	}))

	_, err = svc.ApproveStep(ctx, userID, 0)
	assert.ErrorIs(t, err, qfserrors.ErrProofRequired)

	_, err = withdrawalSvc.UploadProof(ctx, userID, 0, "data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	_, err = withdrawalSvc.UploadProof(ctx, userID, 1, "data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)

	_, err = svc.ApproveStep(ctx, userID, 1)
	assert.ErrorIs(t, err, qfserrors.ErrApprovalOutOfOrder)

	c, err := svc.ApproveStep(ctx, userID, 0)
	require.NoError(t, err)
	assert.True(t, c.Confirmed(0))

	c, err = svc.ApproveStep(ctx, userID, 1)
	require.NoError(t, err)
	assert.True(t, c.Confirmed(1))
}

func TestApproveStepErrors(t *testing.T) {
	svc, _, _, userID := newFixture(t)
	ctx := context.Background()

	_, err := svc.ApproveStep(ctx, userID, 9)
	assert.ErrorIs(t, err, qfserrors.ErrStepOutOfRange)

	_, err = svc.ApproveStep(ctx, userID, 0)
	assert.ErrorIs(t, err, qfserrors.ErrCaseNotFound)
}

func TestListUsers(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	profiles, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "ada@example.com", profiles[0].Email)
}
