package withdrawal

import (
	"context"
	"testing"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/notification"
	qfserrors "qfs/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotices struct {
	keys []notification.Key
	err  error
}

func (n *recordingNotices) Send(key notification.Key, recipient string, params notification.Params) error {
	if n.err != nil {
		return n.err
	}
	n.keys = append(n.keys, key)
	return nil
}

const proofImage = "data:image/png;base64,iVBORw0KGgo="

func setup(t *testing.T) (*Service, docstore.Store, *recordingNotices, uuid.UUID) {
	t.Helper()
	store := docstore.NewMemoryStore()
	notices := &recordingNotices{}
	svc := NewService(store, notices)

	userID := uuid.New()
	user := &domain.User{
		ID:        userID,
		Name:      "Ada",
		Email:     "ada@example.com",
		Role:      domain.RoleUser,
		CreatedAt: time.Now(),
	}
	data, err := docstore.DataFrom(user)
	require.NoError(t, err)
	require.NoError(t, store.Apply(context.Background(), docstore.SetCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Data:       data,
	}))

	return svc, store, notices, userID
}

func confirmStep(t *testing.T, store docstore.Store, userID uuid.UUID, step int) {
	t.Helper()
	doc, err := store.Get(context.Background(), domain.CollectionWithdrawals, userID.String())
	require.NoError(t, err)

	var c domain.WithdrawalCase
	require.NoError(t, doc.DataTo(&c))
	c.AdminConfirmed[step] = true

	data, err := docstore.DataFrom(&c)
	require.NoError(t, err)
	require.NoError(t, store.Apply(context.Background(), docstore.SetCommand{
		Collection: domain.CollectionWithdrawals,
		ID:         userID.String(),
		Data:       data,
	}))
}

func TestGetOrCreateInitialState(t *testing.T) {
	svc, _, _, userID := setup(t)

	c, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, 0, c.Step)
	assert.Equal(t, []bool{false, false, false, false}, c.AdminConfirmed)
	assert.Empty(t, c.Proofs)
	assert.Empty(t, c.NoticesSent)

	// Second access returns the same case.
	again, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, c.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestProceedBlockedWithoutConfirmation(t *testing.T) {
	svc, _, notices, userID := setup(t)

	_, err := svc.Proceed(context.Background(), userID)
	assert.ErrorIs(t, err, qfserrors.ErrStepNotConfirmed)
	assert.Empty(t, notices.keys)

	c, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Step)
}

func TestProceedDispatchesNoticeOnce(t *testing.T) {
	svc, store, notices, userID := setup(t)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	confirmStep(t, store, userID, 0)

	res, err := svc.Proceed(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Case.Step)
	assert.Equal(t, []notification.Key{notification.KeyTaxFee}, notices.keys)
	assert.True(t, res.Case.NoticesSent[string(notification.KeyTaxFee)])
}

func TestNoticeDispatchFailureAbortsAdvance(t *testing.T) {
	svc, store, notices, userID := setup(t)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	confirmStep(t, store, userID, 0)

	notices.err = assert.AnError
	_, err = svc.Proceed(ctx, userID)
	assert.ErrorIs(t, err, qfserrors.ErrNoticeDispatch)

	c, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Step)
	assert.False(t, c.NoticesSent[string(notification.KeyTaxFee)])

	// Recovery: once dispatch works the advance goes through.
	notices.err = nil
	res, err := svc.Proceed(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Case.Step)
}

func TestWizardFullRun(t *testing.T) {
	svc, store, notices, userID := setup(t)
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	for step := 0; step < 3; step++ {
		confirmStep(t, store, userID, step)
		res, err := svc.Proceed(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, step+1, res.Case.Step)
		assert.False(t, res.RedirectToKYC)
	}

	// Step 2 advances without a notice.
	assert.Equal(t, []notification.Key{
		notification.KeyTaxFee,
		notification.KeyFinalClearance,
	}, notices.keys)

	// Final step hands off to identity verification without mutating.
	res, err := svc.Proceed(ctx, userID)
	require.NoError(t, err)
	assert.True(t, res.RedirectToKYC)
	assert.Equal(t, 3, res.Case.Step)

	res, err = svc.Proceed(ctx, userID)
	require.NoError(t, err)
	assert.True(t, res.RedirectToKYC)
	assert.Equal(t, 3, res.Case.Step)
	assert.Len(t, notices.keys, 2)
}

func TestRecordRequestSendsServiceFeeOnce(t *testing.T) {
	svc, _, notices, userID := setup(t)
	ctx := context.Background()

	c, err := svc.RecordRequest(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Step)
	assert.True(t, c.NoticesSent[string(notification.KeyServiceFee)])
	assert.Equal(t, []notification.Key{notification.KeyServiceFee}, notices.keys)

	c, err = svc.RecordRequest(ctx, userID)
	require.NoError(t, err)
	assert.True(t, c.NoticesSent[string(notification.KeyServiceFee)])
	assert.Len(t, notices.keys, 1)
}

func TestRecordRequestDispatchFailureKeepsFlagUnset(t *testing.T) {
	svc, _, notices, userID := setup(t)
	ctx := context.Background()

	notices.err = assert.AnError
	_, err := svc.RecordRequest(ctx, userID)
	assert.ErrorIs(t, err, qfserrors.ErrNoticeDispatch)

	c, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.False(t, c.NoticesSent[string(notification.KeyServiceFee)])

	// Recovery: the next request sends and records the notice.
	notices.err = nil
	c, err = svc.RecordRequest(ctx, userID)
	require.NoError(t, err)
	assert.True(t, c.NoticesSent[string(notification.KeyServiceFee)])
}

func TestUploadProof(t *testing.T) {
	svc, store, _, userID := setup(t)
	ctx := context.Background()

	c, err := svc.UploadProof(ctx, userID, 0, proofImage)
	require.NoError(t, err)
	assert.Equal(t, proofImage, c.Proofs["0"])

	// Replacement allowed while unconfirmed.
	c, err = svc.UploadProof(ctx, userID, 0, proofImage)
	require.NoError(t, err)
	assert.Equal(t, proofImage, c.Proofs["0"])

	confirmStep(t, store, userID, 0)
	_, err = svc.UploadProof(ctx, userID, 0, proofImage)
	assert.ErrorIs(t, err, qfserrors.ErrProofLocked)
}

// confirmDuringApply confirms a step right before the wrapped store
// commits, standing in for an admin approval landing between the
// service's read and its patch.
type confirmDuringApply struct {
	docstore.Store
	t      *testing.T
	userID uuid.UUID
	armed  bool
}

func (s *confirmDuringApply) Apply(ctx context.Context, cmds ...docstore.Command) error {
	if s.armed {
		s.armed = false
		confirmStep(s.t, s.Store, s.userID, 0)
	}
	return s.Store.Apply(ctx, cmds...)
}

func TestUploadProofLosesRaceWithConfirmation(t *testing.T) {
	_, inner, _, userID := setup(t)
	ctx := context.Background()

	wrapped := &confirmDuringApply{Store: inner, t: t, userID: userID}
	svc := NewService(wrapped, &recordingNotices{})

	_, err := svc.GetOrCreate(ctx, userID)
	require.NoError(t, err)

	wrapped.armed = true
	_, err = svc.UploadProof(ctx, userID, 0, proofImage)
	assert.ErrorIs(t, err, qfserrors.ErrProofLocked)

	// The locked step kept no proof.
	doc, err := inner.Get(ctx, domain.CollectionWithdrawals, userID.String())
	require.NoError(t, err)
	var c domain.WithdrawalCase
	require.NoError(t, doc.DataTo(&c))
	assert.Empty(t, c.Proofs)
}

func TestUploadProofValidation(t *testing.T) {
	svc, _, _, userID := setup(t)
	ctx := context.Background()

	_, err := svc.UploadProof(ctx, userID, 5, proofImage)
	assert.ErrorIs(t, err, qfserrors.ErrStepOutOfRange)

	_, err = svc.UploadProof(ctx, userID, 0, "not-a-data-url")
	assert.ErrorIs(t, err, qfserrors.ErrProofInvalid)

	_, err = svc.UploadProof(ctx, userID, 0, "data:text/plain;base64,aGk=")
	assert.ErrorIs(t, err, qfserrors.ErrProofInvalid)
}

func TestLoadPolicyDefaults(t *testing.T) {
	store := docstore.NewMemoryStore()
	ctx := context.Background()

	policy, err := LoadPolicy(ctx, store)
	require.NoError(t, err)
	assert.False(t, policy.RequireProof)
	assert.False(t, policy.MonotonicApproval)

	require.NoError(t, SavePolicy(ctx, store, &domain.WithdrawalPolicy{RequireProof: true}))
	policy, err = LoadPolicy(ctx, store)
	require.NoError(t, err)
	assert.True(t, policy.RequireProof)
}
