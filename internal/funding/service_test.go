package funding

import (
	"context"
	"testing"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"
	"qfs/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validApply() *ApplyRequest {
	req := &ApplyRequest{}
	req.PersonalInfo.FullName = "Ada Lovelace"
	req.PersonalInfo.Email = "ada@example.com"
	req.PersonalInfo.Phone = "+15551234567"
	req.PersonalInfo.Address = "1 Analytical Way"
	req.FundingInfo.Purpose = "Equipment purchase"
	req.FundingInfo.Amount = decimal.NewFromInt(25000)
	req.FundingInfo.Currency = "USD"
	req.FundingInfo.PaybackDurationMonths = 24
	req.Usage.Description = "Buying difference engines."
	return req
}

func TestApplyFilesPendingApplication(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()
	userID := uuid.New()

	app, err := svc.Apply(ctx, userID, validApply())
	require.NoError(t, err)

	assert.Equal(t, domain.ApplicationPending, app.Status)
	assert.Equal(t, userID, app.UserID)
	assert.Nil(t, app.ReviewedAt)

	mine, err := svc.Mine(ctx, userID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Equipment purchase", mine[0].FundingInfo.Purpose)

	other, err := svc.Mine(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestApplyValidation(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())

	req := validApply()
	req.FundingInfo.Amount = decimal.Zero
	_, err := svc.Apply(context.Background(), uuid.New(), req)
	assert.Error(t, err)

	req = validApply()
	req.PersonalInfo.Email = "nope"
	_, err = svc.Apply(context.Background(), uuid.New(), req)
	assert.Error(t, err)
}

func TestReviewRecordsDecision(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()

	app, err := svc.Apply(ctx, uuid.New(), validApply())
	require.NoError(t, err)

	reviewed, err := svc.Review(ctx, app.ID, domain.ApplicationApproved, "Looks solid")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationApproved, reviewed.Status)
	assert.Equal(t, "Looks solid", reviewed.AdminNotes)
	assert.NotNil(t, reviewed.ReviewedAt)

	// Re-review overwrites.
	reviewed, err = svc.Review(ctx, app.ID, domain.ApplicationRejected, "On second thought")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationRejected, reviewed.Status)
}

func TestReviewErrors(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()

	_, err := svc.Review(ctx, "missing", domain.ApplicationApproved, "")
	assert.ErrorIs(t, err, qfserrors.ErrApplicationNotFound)

	app, err := svc.Apply(ctx, uuid.New(), validApply())
	require.NoError(t, err)

	_, err = svc.Review(ctx, app.ID, domain.ApplicationStatus("maybe"), "")
	assert.ErrorIs(t, err, qfserrors.ErrInvalidDecision)
}
