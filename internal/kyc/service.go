// Package kyc captures the identity verification record embedded in the
// user document.
package kyc

import (
	"context"
	"strings"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"
	"qfs/pkg/validator"

	"github.com/google/uuid"
)

// SubmitRequest is the verification form. The document images arrive as
// data URLs, same as withdrawal proofs.
type SubmitRequest struct {
	FullName     string `json:"fullname" validate:"required,min=2,max=100"`
	DateOfBirth  string `json:"dob" validate:"required,datetime=2006-01-02"`
	Address      string `json:"address" validate:"required,max=200"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state" validate:"required,max=100"`
	Zip          string `json:"zip" validate:"required,max=16"`
	SSN          string `json:"ssn" validate:"required,min=4,max=11"`
	LicenseFront string `json:"licenseFront" validate:"required,image_data_url"`
	LicenseBack  string `json:"licenseBack" validate:"required,image_data_url"`
}

type Service struct {
	store    docstore.Store
	validate *validator.Validator
	now      func() time.Time
}

func NewService(store docstore.Store, v *validator.Validator) *Service {
	return &Service{store: store, validate: v, now: time.Now}
}

// Submit validates the form and merges the record into the user document.
// Resubmission overwrites the previous record.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req *SubmitRequest) (*domain.KYCRecord, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	record := &domain.KYCRecord{
		Status:       domain.KYCStatusSubmitted,
		FullName:     strings.TrimSpace(req.FullName),
		DateOfBirth:  req.DateOfBirth,
		Address:      strings.TrimSpace(req.Address),
		City:         strings.TrimSpace(req.City),
		State:        strings.TrimSpace(req.State),
		Zip:          strings.TrimSpace(req.Zip),
		SSN:          req.SSN,
		LicenseFront: req.LicenseFront,
		LicenseBack:  req.LicenseBack,
		SubmittedAt:  s.now(),
	}

	data, err := docstore.DataFrom(record)
	if err != nil {
		return nil, err
	}

	err = s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionUsers,
		ID:         userID.String(),
		Fields:     map[string]interface{}{"kyc": data},
	})
	if err == docstore.ErrNotFound {
		return nil, qfserrors.ErrUserNotFound
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to store kyc record")
	}
	return record, nil
}

// Record returns the user's current verification record, nil when none has
// been submitted.
func (s *Service) Record(ctx context.Context, userID uuid.UUID) (*domain.KYCRecord, error) {
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
	return user.KYC, nil
}
