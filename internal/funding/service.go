// Package funding handles loan/funding applications: users apply, admins
// review.
package funding

import (
	"context"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"
	"qfs/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApplyRequest is the funding application form.
type ApplyRequest struct {
	PersonalInfo struct {
		FullName string `json:"fullName" validate:"required,min=2,max=100"`
		Email    string `json:"email" validate:"required,email"`
		Phone    string `json:"phone" validate:"required,min=7,max=20"`
		Address  string `json:"address" validate:"required,max=200"`
	} `json:"personalInfo"`
	FundingInfo struct {
		Purpose               string          `json:"purpose" validate:"required,max=200"`
		Amount                decimal.Decimal `json:"amount" validate:"gt=0"`
		Currency              string          `json:"currency" validate:"required,len=3"`
		PaybackDurationMonths int             `json:"paybackDurationMonths" validate:"required,gt=0,lte=360"`
	} `json:"fundingInfo"`
	Usage struct {
		Description string `json:"description" validate:"required,max=2000"`
	} `json:"usage"`
}

type Service struct {
	store    docstore.Store
	validate *validator.Validator
	now      func() time.Time
}

func NewService(store docstore.Store, v *validator.Validator) *Service {
	return &Service{store: store, validate: v, now: time.Now}
}

// Apply files a new application in pending state.
func (s *Service) Apply(ctx context.Context, userID uuid.UUID, req *ApplyRequest) (*domain.FundingApplication, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	app := &domain.FundingApplication{
		ID:     docstore.NewID(),
		UserID: userID,
		PersonalInfo: domain.PersonalInfo{
			FullName: req.PersonalInfo.FullName,
			Email:    req.PersonalInfo.Email,
			Phone:    req.PersonalInfo.Phone,
			Address:  req.PersonalInfo.Address,
		},
		FundingInfo: domain.FundingInfo{
			Purpose:               req.FundingInfo.Purpose,
			Amount:                req.FundingInfo.Amount,
			Currency:              req.FundingInfo.Currency,
			PaybackDurationMonths: req.FundingInfo.PaybackDurationMonths,
		},
		Usage:     domain.UsageInfo{Description: req.Usage.Description},
		Status:    domain.ApplicationPending,
		CreatedAt: s.now(),
	}

	data, err := docstore.DataFrom(app)
	if err != nil {
		return nil, err
	}
	err = s.store.Apply(ctx, docstore.AddCommand{
		Collection: domain.CollectionFunding,
		ID:         app.ID,
		Data:       data,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to file application")
	}
	return app, nil
}

// Mine lists the caller's applications, newest first.
func (s *Service) Mine(ctx context.Context, userID uuid.UUID) ([]*domain.FundingApplication, error) {
	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionFunding,
		Filters:    []docstore.Filter{{Field: "userId", Op: docstore.FilterEq, Value: userID.String()}},
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to list applications")
	}
	return decodeApplications(docs)
}

// ListAll returns every application for the admin console.
func (s *Service) ListAll(ctx context.Context) ([]*domain.FundingApplication, error) {
	docs, err := s.store.Find(ctx, docstore.Query{
		Collection: domain.CollectionFunding,
		OrderBy:    "createdAt",
		Descending: true,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to list applications")
	}
	return decodeApplications(docs)
}

// Review records an admin decision. Re-review overwrites the previous
// decision.
func (s *Service) Review(ctx context.Context, id string, decision domain.ApplicationStatus, notes string) (*domain.FundingApplication, error) {
	if decision != domain.ApplicationApproved && decision != domain.ApplicationRejected {
		return nil, qfserrors.ErrInvalidDecision
	}

	err := s.store.Apply(ctx, docstore.PatchCommand{
		Collection: domain.CollectionFunding,
		ID:         id,
		Fields: map[string]interface{}{
			"status":     string(decision),
			"adminNotes": notes,
			"reviewedAt": s.now().Format(time.RFC3339Nano),
		},
	})
	if err == docstore.ErrNotFound {
		return nil, qfserrors.ErrApplicationNotFound
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to record decision")
	}

	doc, err := s.store.Get(ctx, domain.CollectionFunding, id)
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to reload application")
	}
	var app domain.FundingApplication
	if err := doc.DataTo(&app); err != nil {
		return nil, err
	}
	return &app, nil
}

func decodeApplications(docs []*docstore.Document) ([]*domain.FundingApplication, error) {
	apps := make([]*domain.FundingApplication, 0, len(docs))
	for _, doc := range docs {
		var app domain.FundingApplication
		if err := doc.DataTo(&app); err != nil {
			return nil, err
		}
		app.ID = doc.ID
		apps = append(apps, &app)
	}
	return apps, nil
}
