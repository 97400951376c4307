// Package ledger owns balance and transaction history: reads are live
// projections of the user document and the transactions collection, and
// every balance-affecting write commits the balance change and its
// transaction record in one atomic batch.
package ledger

import (
	"context"
	"errors"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/rates"
	qfserrors "qfs/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateSource supplies the BTC/USD rate used for reference amounts.
// rates.Service satisfies it.
type RateSource interface {
	Current(ctx context.Context) decimal.Decimal
}

// CaseRecorder opens the processing wizard case a withdrawal request
// feeds and dispatches its one-time service fee notice.
// withdrawal.Service satisfies it.
type CaseRecorder interface {
	RecordRequest(ctx context.Context, userID uuid.UUID) (*domain.WithdrawalCase, error)
}

type Service struct {
	store docstore.Store
	rates RateSource
	cases CaseRecorder
	now   func() time.Time
}

func NewService(store docstore.Store, rateSource RateSource, cases CaseRecorder) *Service {
	return &Service{store: store, rates: rateSource, cases: cases, now: time.Now}
}

// Balance reads the current balance off the user document.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return user.BalanceUSD, nil
}

// Transactions lists the user's history, newest first.
func (s *Service) Transactions(ctx context.Context, userID uuid.UUID) ([]*domain.Transaction, error) {
	docs, err := s.store.Find(ctx, transactionsQuery(userID))
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to list transactions")
	}

	txs := make([]*domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		var tx domain.Transaction
		if err := doc.DataTo(&tx); err != nil {
			return nil, err
		}
		tx.ID = doc.ID
		txs = append(txs, &tx)
	}
	return txs, nil
}

// AddTransaction applies a settled movement: the balance change and the
// success transaction record commit together or not at all. Deposits
// credit; withdrawals debit and require sufficient balance at commit time.
func (s *Service) AddTransaction(ctx context.Context, userID uuid.UUID, kind domain.TransactionKind, amountUSD decimal.Decimal) (*domain.Transaction, error) {
	if !amountUSD.IsPositive() {
		return nil, qfserrors.ErrInvalidAmount
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rate := s.rates.Current(ctx)
	amountBTC, err := rates.ReferenceAmount(amountUSD, rate)
	if err != nil {
		return nil, err
	}

	var newBalance decimal.Decimal
	conditions := []docstore.Condition{
		{Path: "balanceUSD", Op: docstore.CondEq, Value: user.BalanceUSD.String()},
	}
	switch kind {
	case domain.KindDeposit:
		newBalance = user.BalanceUSD.Add(amountUSD)
	case domain.KindWithdrawal:
		if user.BalanceUSD.LessThan(amountUSD) {
			return nil, qfserrors.ErrInsufficientBalance
		}
		newBalance = user.BalanceUSD.Sub(amountUSD)
		conditions = append(conditions, docstore.Condition{
			Path: "balanceUSD", Op: docstore.CondGTE, Value: amountUSD.String(),
		})
	default:
		return nil, qfserrors.ErrInvalidAmount
	}

	tx := &domain.Transaction{
		ID:        docstore.NewID(),
		UserID:    userID,
		Kind:      kind,
		AmountUSD: amountUSD,
		AmountBTC: amountBTC,
		Coin:      "BTC",
		Status:    domain.StatusSuccess,
		CreatedAt: s.now(),
	}
	txData, err := docstore.DataFrom(tx)
	if err != nil {
		return nil, err
	}

	err = s.store.Apply(ctx,
		docstore.PatchCommand{
			Collection: domain.CollectionUsers,
			ID:         userID.String(),
			Fields:     map[string]interface{}{"balanceUSD": newBalance.String()},
			Conditions: conditions,
		},
		docstore.AddCommand{
			Collection: domain.CollectionTransactions,
			ID:         tx.ID,
			Data:       txData,
		},
	)
	if errors.Is(err, docstore.ErrPreconditionFailed) {
		return nil, qfserrors.ErrInsufficientBalance
	}
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to commit transaction")
	}
	return tx, nil
}

// AddPendingWithdrawal records a withdrawal request awaiting the
// processing wizard. The balance is untouched until settlement.
func (s *Service) AddPendingWithdrawal(ctx context.Context, userID uuid.UUID, amountUSD decimal.Decimal, coin, address string) (*domain.Transaction, error) {
	if !amountUSD.IsPositive() {
		return nil, qfserrors.ErrInvalidAmount
	}

	// Existence check; a request for an unknown user is a caller bug.
	if _, err := s.getUser(ctx, userID); err != nil {
		return nil, err
	}

	// Every request is backed by a wizard case carrying the one-time
	// service fee notice. A dispatch failure aborts the request.
	if _, err := s.cases.RecordRequest(ctx, userID); err != nil {
		return nil, err
	}

	rate := s.rates.Current(ctx)
	amountBTC, err := rates.ReferenceAmount(amountUSD, rate)
	if err != nil {
		return nil, err
	}

	if coin == "" {
		coin = "BTC"
	}
	tx := &domain.Transaction{
		ID:        docstore.NewID(),
		UserID:    userID,
		Kind:      domain.KindWithdrawal,
		AmountUSD: amountUSD,
		AmountBTC: amountBTC,
		Coin:      coin,
		Address:   address,
		Status:    domain.StatusPending,
		CreatedAt: s.now(),
	}
	txData, err := docstore.DataFrom(tx)
	if err != nil {
		return nil, err
	}

	err = s.store.Apply(ctx, docstore.AddCommand{
		Collection: domain.CollectionTransactions,
		ID:         tx.ID,
		Data:       txData,
	})
	if err != nil {
		return nil, qfserrors.Wrap(err, "failed to record withdrawal request")
	}
	return tx, nil
}

// SubscribeBalance streams the user's profile whenever the user document
// changes.
func (s *Service) SubscribeBalance(ctx context.Context, userID uuid.UUID, fn func(*domain.Profile)) (docstore.Subscription, error) {
	return s.store.SubscribeDocument(ctx, domain.CollectionUsers, userID.String(), func(doc *docstore.Document) {
		var user domain.User
		if err := doc.DataTo(&user); err != nil {
			return
		}
		fn(user.Profile())
	})
}

// SubscribeTransactions streams the user's full history on every change.
func (s *Service) SubscribeTransactions(ctx context.Context, userID uuid.UUID, fn func([]*domain.Transaction)) (docstore.Subscription, error) {
	return s.store.SubscribeQuery(ctx, transactionsQuery(userID), func(docs []*docstore.Document) {
		txs := make([]*domain.Transaction, 0, len(docs))
		for _, doc := range docs {
			var tx domain.Transaction
			if err := doc.DataTo(&tx); err != nil {
				continue
			}
			tx.ID = doc.ID
			txs = append(txs, &tx)
		}
		fn(txs)
	})
}

func transactionsQuery(userID uuid.UUID) docstore.Query {
	return docstore.Query{
		Collection: domain.CollectionTransactions,
		Filters:    []docstore.Filter{{Field: "userId", Op: docstore.FilterEq, Value: userID.String()}},
		OrderBy:    "createdAt",
		Descending: true,
	}
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
