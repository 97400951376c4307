package auth

import (
	"context"
	"testing"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	docstore.Store
	calls int
}

func (s *countingStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	s.calls++
	return s.Store.Get(ctx, collection, id)
}

func (s *countingStore) Find(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	s.calls++
	return s.Store.Find(ctx, q)
}

func (s *countingStore) Apply(ctx context.Context, cmds ...docstore.Command) error {
	s.calls++
	return s.Store.Apply(ctx, cmds...)
}

type stubNotifier struct {
	sent []string
	link string
	err  error
}

func (n *stubNotifier) SendVerification(recipient, name, link string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, recipient)
	n.link = link
	return nil
}

func newTestService() (*Service, *countingStore, *stubNotifier) {
	store := &countingStore{Store: docstore.NewMemoryStore()}
	notifier := &stubNotifier{}
	svc := NewService(store, NewMemoryTokenStore(), notifier, "test-secret", 15*time.Minute, "https://qfs.example/verify")
	return svc, store, notifier
}

func signUpReq() *SignUpRequest {
	return &SignUpRequest{
		Name:            "Ada Lovelace",
		Username:        "ada",
		Email:           "ada@example.com",
		Password:        "correct-horse-1",
		ConfirmPassword: "correct-horse-1",
	}
}

func TestSignUpPasswordMismatchTouchesNothing(t *testing.T) {
	svc, store, notifier := newTestService()

	req := signUpReq()
	req.ConfirmPassword = "different"

	_, err := svc.SignUp(context.Background(), req)
	assert.ErrorIs(t, err, qfserrors.ErrPasswordMismatch)
	assert.Equal(t, 0, store.calls)
	assert.Empty(t, notifier.sent)
}

func TestSignUpCreatesUnverifiedAccount(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	profile, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", profile.Email)
	assert.Equal(t, domain.RoleUser, profile.Role)
	assert.True(t, profile.BalanceUSD.IsZero())
	assert.False(t, profile.EmailVerified)
	assert.Equal(t, []string{"ada@example.com"}, notifier.sent)
	assert.Contains(t, notifier.link, "token=")
}

func TestSignUpDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)

	_, err = svc.SignUp(ctx, signUpReq())
	assert.ErrorIs(t, err, qfserrors.ErrUserAlreadyExists)
}

func TestSignInRejectsUnverifiedEmail(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)

	resp, err := svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "correct-horse-1"})
	assert.ErrorIs(t, err, qfserrors.ErrEmailNotVerified)
	assert.Nil(t, resp)
}

func verifyEmail(t *testing.T, svc *Service, notifier *stubNotifier) {
	t.Helper()
	token := notifier.link[len("https://qfs.example/verify?token="):]
	require.NoError(t, svc.VerifyEmail(context.Background(), token))
}

func TestVerifyEmailThenSignIn(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)
	verifyEmail(t, svc, notifier)

	resp, err := svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "correct-horse-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.True(t, resp.User.EmailVerified)

	// The consumed token is gone.
	err = svc.VerifyEmail(ctx, notifier.link[len("https://qfs.example/verify?token="):])
	assert.ErrorIs(t, err, qfserrors.ErrVerifyTokenInvalid)
}

func TestSignInWrongPassword(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)
	verifyEmail(t, svc, notifier)

	_, err = svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, qfserrors.ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, &SignInRequest{Email: "nobody@example.com", Password: "x"})
	assert.ErrorIs(t, err, qfserrors.ErrInvalidCredentials)
}

func TestSignOutRevokesToken(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	_, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)
	verifyEmail(t, svc, notifier)

	resp, err := svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "correct-horse-1"})
	require.NoError(t, err)

	identity, err := svc.Authenticate(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", identity.Email)

	require.NoError(t, svc.SignOut(ctx, resp.AccessToken))

	_, err = svc.Authenticate(ctx, resp.AccessToken)
	assert.ErrorIs(t, err, qfserrors.ErrNotAuthenticated)
}

func TestChangePasswordRequiresReauthentication(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	profile, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)
	verifyEmail(t, svc, notifier)

	err = svc.ChangePassword(ctx, profile.ID, &ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "new-password-9",
		ConfirmPassword: "new-password-9",
	})
	assert.ErrorIs(t, err, qfserrors.ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, profile.ID, &ChangePasswordRequest{
		CurrentPassword: "correct-horse-1",
		NewPassword:     "new-password-9",
		ConfirmPassword: "new-password-9",
	})
	require.NoError(t, err)

	_, err = svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "new-password-9"})
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	profile, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)
	verifyEmail(t, svc, notifier)

	avatar := "data:image/png;base64,iVBORw0KGgo="
	updated, err := svc.UpdateProfile(ctx, profile.ID, &UpdateProfileRequest{
		Name:   "Ada King",
		Avatar: avatar,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada King", updated.Name)
	assert.Equal(t, avatar, updated.Avatar)

	// Untouched fields survive the patch.
	assert.Equal(t, "ada", updated.Username)
	assert.True(t, updated.EmailVerified)

	// Credentials were not clobbered.
	_, err = svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "correct-horse-1"})
	assert.NoError(t, err)

	// An empty request is a no-op read.
	same, err := svc.UpdateProfile(ctx, profile.ID, &UpdateProfileRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Ada King", same.Name)
}

func TestTOTPEnrollmentAndSignIn(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	profile, err := svc.SignUp(ctx, signUpReq())
	require.NoError(t, err)
	verifyEmail(t, svc, notifier)

	enrollment, err := svc.EnrollTOTP(ctx, profile.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)

	// Not active yet: sign-in works without a code.
	_, err = svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "correct-horse-1"})
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, svc.ActivateTOTP(ctx, profile.ID, code))

	_, err = svc.SignIn(ctx, &SignInRequest{Email: "ada@example.com", Password: "correct-horse-1"})
	assert.ErrorIs(t, err, qfserrors.ErrTOTPRequired)

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	resp, err := svc.SignIn(ctx, &SignInRequest{
		Email:    "ada@example.com",
		Password: "correct-horse-1",
		TOTPCode: code,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}
