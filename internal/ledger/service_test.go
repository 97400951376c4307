package ledger

import (
	"context"
	"testing"
	"time"

	"qfs/internal/docstore"
	"qfs/internal/domain"
	"qfs/internal/notification"
	"qfs/internal/withdrawal"
	qfserrors "qfs/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRate struct{ rate decimal.Decimal }

func (f fixedRate) Current(ctx context.Context) decimal.Decimal { return f.rate }

type noticeLog struct{ keys []notification.Key }

func (n *noticeLog) Send(key notification.Key, recipient string, params notification.Params) error {
	n.keys = append(n.keys, key)
	return nil
}

func newTestService(store docstore.Store) (*Service, *noticeLog) {
	notices := &noticeLog{}
	cases := withdrawal.NewService(store, notices)
	return NewService(store, fixedRate{decimal.NewFromInt(68000)}, cases), notices
}

func seedUser(t *testing.T, store docstore.Store, balance string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	user := &domain.User{
		ID:         id,
		Name:       "Ada",
		Email:      "ada@example.com",
		Role:       domain.RoleUser,
		BalanceUSD: decimal.RequireFromString(balance),
		CreatedAt:  time.Now(),
	}
	data, err := docstore.DataFrom(user)
	require.NoError(t, err)
	require.NoError(t, store.Apply(context.Background(), docstore.SetCommand{
		Collection: domain.CollectionUsers,
		ID:         id.String(),
		Data:       data,
	}))
	return id
}

func TestDepositCreditsBalanceWithReferenceAmount(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "0")

	tx, err := svc.AddTransaction(ctx, userID, domain.KindDeposit, decimal.NewFromInt(500))
	require.NoError(t, err)

	assert.Equal(t, domain.KindDeposit, tx.Kind)
	assert.Equal(t, domain.StatusSuccess, tx.Status)
	assert.Equal(t, "0.00735", tx.AmountBTC.String())

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "500", balance.String())

	txs, err := svc.Transactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "500", txs[0].AmountUSD.String())
}

func TestWithdrawalDebitsBalance(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "800")

	_, err := svc.AddTransaction(ctx, userID, domain.KindWithdrawal, decimal.NewFromInt(300))
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "500", balance.String())
}

func TestWithdrawalRejectsInsufficientBalance(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "100")

	_, err := svc.AddTransaction(ctx, userID, domain.KindWithdrawal, decimal.NewFromInt(300))
	assert.ErrorIs(t, err, qfserrors.ErrInsufficientBalance)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "100", balance.String())

	txs, err := svc.Transactions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestAddTransactionRejectsNonPositiveAmounts(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "100")

	_, err := svc.AddTransaction(ctx, userID, domain.KindDeposit, decimal.Zero)
	assert.ErrorIs(t, err, qfserrors.ErrInvalidAmount)

	_, err = svc.AddTransaction(ctx, userID, domain.KindDeposit, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, qfserrors.ErrInvalidAmount)
}

func TestPendingWithdrawalLeavesBalanceUntouched(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "500")

	tx, err := svc.AddPendingWithdrawal(ctx, userID, decimal.NewFromInt(500), "BTC", "bc1qexample")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, "bc1qexample", tx.Address)
	assert.Equal(t, "0.00735", tx.AmountBTC.String())

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "500", balance.String())
}

func TestPendingWithdrawalOpensCaseWithServiceFee(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, notices := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "500")

	_, err := svc.AddPendingWithdrawal(ctx, userID, decimal.NewFromInt(200), "BTC", "bc1qexample")
	require.NoError(t, err)

	doc, err := store.Get(ctx, domain.CollectionWithdrawals, userID.String())
	require.NoError(t, err)
	var c domain.WithdrawalCase
	require.NoError(t, doc.DataTo(&c))
	assert.Equal(t, 0, c.Step)
	assert.True(t, c.NoticesSent[string(notification.KeyServiceFee)])
	assert.Equal(t, []notification.Key{notification.KeyServiceFee}, notices.keys)

	// A second request reuses the case and never re-sends the notice.
	_, err = svc.AddPendingWithdrawal(ctx, userID, decimal.NewFromInt(100), "BTC", "bc1qexample")
	require.NoError(t, err)
	assert.Len(t, notices.keys, 1)
}

func TestTransactionsNewestFirst(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestService(store)
	ctx := context.Background()

	userID := seedUser(t, store, "0")

	first, err := svc.AddTransaction(ctx, userID, domain.KindDeposit, decimal.NewFromInt(100))
	require.NoError(t, err)
	second, err := svc.AddTransaction(ctx, userID, domain.KindDeposit, decimal.NewFromInt(200))
	require.NoError(t, err)

	txs, err := svc.Transactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, second.ID, txs[0].ID)
	assert.Equal(t, first.ID, txs[1].ID)
}
