package withdrawal

import (
	"context"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	qfserrors "qfs/pkg/errors"
)

// LoadPolicy reads the admin confirmation policy from app settings. A
// missing document means both knobs are off, which matches the historical
// behavior of unconditional out-of-order approval.
func LoadPolicy(ctx context.Context, store docstore.Store) (*domain.WithdrawalPolicy, error) {
	doc, err := store.Get(ctx, domain.CollectionAppSettings, domain.WithdrawalPolicyDocID)
	if err == docstore.ErrNotFound {
		return &domain.WithdrawalPolicy{}, nil
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to load withdrawal policy")
	}

	var policy domain.WithdrawalPolicy
	if err := doc.DataTo(&policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// SavePolicy writes the policy document, creating it when absent.
func SavePolicy(ctx context.Context, store docstore.Store, policy *domain.WithdrawalPolicy) error {
	data, err := docstore.DataFrom(policy)
	if err != nil {
		return err
	}
	return store.Apply(ctx, docstore.SetCommand{
		Collection: domain.CollectionAppSettings,
		ID:         domain.WithdrawalPolicyDocID,
		Data:       data,
	})
}
