package kyc

import (
	"context"
	"testing"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"
	"qfs/pkg/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const licenseImage = "data:image/jpeg;base64,/9j/4AAQ"

func validRequest() *SubmitRequest {
	return &SubmitRequest{
		FullName:     "Ada Lovelace",
		DateOfBirth:  "1990-12-10",
		Address:      "1 Analytical Way",
		City:         "London",
		State:        "LN",
		Zip:          "10001",
		SSN:          "6789",
		LicenseFront: licenseImage,
		LicenseBack:  licenseImage,
	}
}

func seedUser(t *testing.T, store docstore.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	user := &domain.User{ID: id, Name: "Ada", Email: "ada@example.com", Role: domain.RoleUser, CreatedAt: time.Now()}
	data, err := docstore.DataFrom(user)
	require.NoError(t, err)
	require.NoError(t, store.Apply(context.Background(), docstore.SetCommand{
		Collection: domain.CollectionUsers,
		ID:         id.String(),
		Data:       data,
	}))
	return id
}

func TestSubmitMergesRecordIntoUser(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()

	userID := seedUser(t, store)

	record, err := svc.Submit(ctx, userID, validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.KYCStatusSubmitted, record.Status)

	got, err := svc.Record(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada Lovelace", got.FullName)
	assert.Equal(t, licenseImage, got.LicenseFront)

	// Other user fields survive the merge.
	doc, err := store.Get(ctx, domain.CollectionUsers, userID.String())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", doc.Data["email"])
}

func TestSubmitOverwritesOnResubmission(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()

	userID := seedUser(t, store)

	_, err := svc.Submit(ctx, userID, validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.City = "Cambridge"
	_, err = svc.Submit(ctx, userID, req)
	require.NoError(t, err)

	got, err := svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Cambridge", got.City)
}

func TestSubmitValidation(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()

	userID := seedUser(t, store)

	req := validRequest()
	req.DateOfBirth = "12/10/1990"
	_, err := svc.Submit(ctx, userID, req)
	assert.Error(t, err)

	req = validRequest()
	req.LicenseFront = "not-an-image"
	_, err = svc.Submit(ctx, userID, req)
	assert.Error(t, err)
}

func TestSubmitUnknownUser(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())

	_, err := svc.Submit(context.Background(), uuid.New(), validRequest())
	assert.ErrorIs(t, err, qfserrors.ErrUserNotFound)
}

func TestRecordNilBeforeSubmission(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := NewService(store, validator.New())
	ctx := context.Background()

	userID := seedUser(t, store)

	got, err := svc.Record(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
