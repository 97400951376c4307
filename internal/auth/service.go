// Package auth implements registration, sign-in, token issuance and
// revocation, and credential management for the banking product.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const verifyTokenTTL = 24 * time.Hour

// Notifier sends the account emails the auth flow needs.
type Notifier interface {
	SendVerification(recipient, name, link string) error
}

// Service provides registration, sign-in, and token issuance.
type Service struct {
	store     docstore.Store
	tokens    TokenStore
	notifier  Notifier
	jwtSecret string
	jwtExpiry time.Duration
	verifyURL string
	issuer    string
	now       func() time.Time
}

// NewService constructs a Service. verifyURL is the base the emailed
// verification link points at; the token is appended as a query parameter.
func NewService(store docstore.Store, tokens TokenStore, notifier Notifier, jwtSecret string, jwtExpiry time.Duration, verifyURL string) *Service {
	return &Service{
		store:     store,
		tokens:    tokens,
		notifier:  notifier,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
		verifyURL: verifyURL,
		issuer:    "Quantum Financial System",
		now:       time.Now,
	}
}

// SignUpRequest captures the registration form.
type SignUpRequest struct {
	Name            string `json:"name" validate:"required,min=2,max=100"`
	Username        string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// SignInRequest captures credentials for sign-in. TOTPCode is required only
// for accounts with the second factor enabled.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTPCode string `json:"totpCode,omitempty"`
}

// TokenResponse is returned on successful sign-in.
type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	User        *domain.Profile `json:"user"`
}

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Role      domain.Role
	JTI       string
	ExpiresAt time.Time
}

// SignUp creates the account and its user document, then sends the
// verification email. No session is issued; the caller signs in after
// verifying. The confirmation check runs before anything touches the store.
func (s *Service) SignUp(ctx context.Context, req *SignUpRequest) (*domain.Profile, error) {
	if req.Password != req.ConfirmPassword {
		return nil, qfserrors.ErrPasswordMismatch
	}

	existing, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionUsers,
		Filters:    []docstore.Filter{{Field: "email", Op: docstore.FilterEq, Value: req.Email}},
		Limit:      1,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to check existing account")
	}
	if len(existing) > 0 {
		return nil, qfserrors.ErrUserAlreadyExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	verifyToken, err := generateRandomToken(32)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expires := now.Add(verifyTokenTTL)
	user := &domain.User{
		ID:            uuid.New(),
		Name:          req.Name,
		Username:      req.Username,
		Email:         req.Email,
		EmailVerified: false,
		PasswordHash:  string(passwordHash),
		Role:          domain.RoleUser,
		BalanceUSD:    decimal.Zero,
		Avatar:        "",
		VerifyToken:   verifyToken,
		VerifyExpires: &expires,
		CreatedAt:     now,
	}

	data, err := docstore.DataFrom(user)
	if err != nil {
		return nil, err
	}
	err = s.store.Apply(ctx, docstore.AddCommand{
		Collection: domain.CollectionUsers,
		ID:         user.ID.String(),
		Data:       data,
	})
	if err == docstore.ErrAlreadyExists {
		return nil, qfserrors.ErrUserAlreadyExists
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to create user")
	}

	link := fmt.Sprintf("%s?token=%s", s.verifyURL, verifyToken)
	if err := s.notifier.SendVerification(user.Email, user.Name, link); err != nil {
		return nil, err
	}

	return user.Profile(), nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return qfserrors.ErrVerifyTokenInvalid
	}

	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionUsers,
		Filters:    []docstore.Filter{{Field: "verifyToken", Op: docstore.FilterEq, Value: token}},
		Limit:      1,
	})
	if err != nil {
		return qfserrors.Wrap(err, "failed to look up verification token")
	}
	if len(docs) == 0 {
		return qfserrors.ErrVerifyTokenInvalid
	}

	var user domain.User
	if err := docs[0].DataTo(&user); err != nil {
		return err
	}
	if user.VerifyExpires == nil || s.now().After(*user.VerifyExpires) {
		return qfserrors.ErrVerifyTokenInvalid
	}

	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionUsers,
		ID:         docs[0].ID,
		Fields: map[string]interface{}{
			"emailVerified": true,
			"verifyToken":   "",
			"verifyExpires": nil,
		},
		Conditions: []docstore.Condition{
			{Path: "verifyToken", Op: docstore.CondEq, Value: token},
		},
	})
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return qfserrors.ErrVerifyTokenInvalid
	}
	return err
}

// SignIn authenticates the credentials and issues a session token. An
// unverified account never receives a token.
func (s *Service) SignIn(ctx context.Context, req *SignInRequest) (*TokenResponse, error) {
	user, err := s.findByEmail(ctx, req.Email)
	if err != nil {
		return nil, qfserrors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, qfserrors.ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, qfserrors.ErrEmailNotVerified
	}

	if user.TOTPEnabled {
		if req.TOTPCode == "" {
			return nil, qfserrors.ErrTOTPRequired
		}
		if !totp.Validate(req.TOTPCode, user.TOTPSecret) {
			return nil, qfserrors.ErrTOTPInvalid
		}
	}

	return s.issueToken(user)
}

// SignOut revokes the presented token until its natural expiry.
func (s *Service) SignOut(ctx context.Context, tokenString string) error {
	identity, err := s.Authenticate(ctx, tokenString)
	if err != nil {
		return err
	}
	ttl := time.Until(identity.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.tokens.Revoke(ctx, identity.JTI, ttl)
}

// Authenticate validates a bearer token and returns the caller identity.
// Revoked tokens fail even before expiry.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, qfserrors.ErrNotAuthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, qfserrors.ErrNotAuthenticated
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, qfserrors.ErrNotAuthenticated
	}
	jti, _ := claims["jti"].(string)
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, qfserrors.ErrNotAuthenticated
	}

	if jti != "" {
		revoked, err := s.tokens.IsRevoked(ctx, jti)
		if err != nil {
			return nil, qfserrors.Wrap(err, "failed to check token state")
		}
		if revoked {
			return nil, qfserrors.ErrNotAuthenticated
		}
	}

	return &Identity{
		UserID:    userID,
		Email:     email,
		Role:      domain.Role(role),
		JTI:       jti,
		ExpiresAt: exp.Time,
	}, nil
}

// CurrentUser loads the caller's profile.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Profile(), nil
}

// UpdateProfileRequest edits the caller's display fields. Empty fields
// are left unchanged; the avatar arrives as a bounded image data URL.
type UpdateProfileRequest struct {
	Name     string `json:"name" validate:"omitempty,min=2,max=100"`
	Username string `json:"username" validate:"omitempty,alphanum,min=3,max=30"`
	Avatar   string `json:"avatar" validate:"omitempty,image_data_url"`
}

// UpdateProfile patches the caller's display fields on the user document.
// Credentials and verification state are untouchable through this path.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, req *UpdateProfileRequest) (*domain.Profile, error) {
	fields := map[string]interface{}{}
	if req.Name != "" {
		fields["name"] = req.Name
	}
	if req.Username != "" {
		fields["username"] = req.Username
	}
	if req.Avatar != "" {
		fields["avatar"] = req.Avatar
	}
	if len(fields) == 0 {
		return s.CurrentUser(ctx, userID)
	}

	err := s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Fields:     fields,
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, qfserrors.ErrUserNotFound
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to update profile")
	}
	return s.CurrentUser(ctx, userID)
}

// ChangePasswordRequest requires reauthentication with the current
// password; accounts with TOTP enabled must also present a code.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
	TOTPCode        string `json:"totpCode,omitempty"`
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req *ChangePasswordRequest) error {
	if req.NewPassword != req.ConfirmPassword {
		return qfserrors.ErrPasswordMismatch
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return qfserrors.ErrInvalidCredentials
	}
	if user.TOTPEnabled {
		if req.TOTPCode == "" {
			return qfserrors.ErrTOTPRequired
		}
		if !totp.Validate(req.TOTPCode, user.TOTPSecret) {
			return qfserrors.ErrTOTPInvalid
		}
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Fields:     map[string]interface{}{"passwordHash": string(newHash)},
	})
}

// TOTPEnrollment holds the provisioning material for an authenticator app.
type TOTPEnrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// EnrollTOTP provisions a new secret for the account. The secret stays
// inactive until ActivateTOTP proves the authenticator produces valid codes.
func (s *Service) EnrollTOTP(ctx context.Context, userID uuid.UUID) (*TOTPEnrollment, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to generate totp secret")
	}

	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Fields: map[string]interface{}{
			"totpSecret":  key.Secret(),
			"totpEnabled": false,
		},
	})
	if err != nil {
		return nil, err
	}

	return &TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ActivateTOTP turns the second factor on once the user proves possession
// of the enrolled secret.
func (s *Service) ActivateTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPSecret == "" {
		return qfserrors.ErrTOTPRequired
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return qfserrors.ErrTOTPInvalid
	}

	return s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Fields:     map[string]interface{}{"totpEnabled": true},
	})
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

func (s *Service) findByEmail(ctx context.Context, email string) (*domain.User, error) {
	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionUsers,
		Filters:    []docstore.Filter{{Field: "email", Op: docstore.FilterEq, Value: email}},
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, qfserrors.ErrUserNotFound
	}

	var user domain.User
	if err := docs[0].DataTo(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) issueToken(user *domain.User) (*TokenResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.jwtExpiry)

	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"role":  string(user.Role),
		"jti":   uuid.NewString(),
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		AccessToken: signed,
		ExpiresAt:   expiresAt,
		User:        user.Profile(),
	}, nil
}

func generateRandomToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
