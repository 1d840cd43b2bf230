package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mybizhub/escrow-ledger/internal/clock"
	"github.com/mybizhub/escrow-ledger/internal/model"
	"github.com/mybizhub/escrow-ledger/internal/repository"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func heldOrder(id, businessID string, amountKobo int64, holdUntil time.Time) model.Order {
	return model.Order{
		ID:           id,
		BusinessID:   businessID,
		AmountKobo:   amountKobo,
		EscrowStatus: model.EscrowStatusHeld,
		HoldUntilMs:  holdUntil.UnixMilli(),
		OrderStatus:  "delivered",
	}
}

func newTestService(t *testing.T, repo Store, opts ...Option) *Service {
	t.Helper()
	return NewService(repo, clock.NewFixed(testNow), zap.NewNop(), opts...)
}

func TestRelease_ElapsedHold(t *testing.T) {
	repo := repository.NewMemoryRepository()
	order := heldOrder("ord_1", "biz_A", 500000, testNow.Add(-time.Minute))
	order.PaymentReference = "ref_1"
	repo.PutOrder(order)
	repo.PutWallet(model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 500000})
	repo.PutTransaction(model.Transaction{Reference: "ref_1", Status: "success"})

	svc := newTestService(t, repo)

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.True(t, res.Released)
	assert.Equal(t, MessageReleased, res.Message)

	w, err := repo.GetWallet(context.Background(), "biz_A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.PendingBalanceKobo)
	assert.Equal(t, int64(500000), w.AvailableBalanceKobo)
	assert.Equal(t, int64(500000), w.TotalEarnedKobo)
	assert.Equal(t, testNow, w.UpdatedAt)

	o, ok := repo.Order("ord_1")
	require.True(t, ok)
	assert.Equal(t, model.EscrowStatusReleased, o.EscrowStatus)
	assert.Equal(t, model.OrderStatusReleasedToWallet, o.OrderStatus)
	require.NotNil(t, o.ReleasedAt)
	assert.Equal(t, testNow, *o.ReleasedAt)

	tr, ok := repo.Transaction("ref_1")
	require.True(t, ok)
	assert.Equal(t, model.TransactionStatusReleased, tr.Status)

	entries := repo.LedgerEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "ord_1", entries[0].OrderID)
	assert.Equal(t, "biz_A", entries[0].BusinessID)
	assert.Equal(t, int64(500000), entries[0].AmountKobo)
	assert.Equal(t, model.LedgerKindEscrowRelease, entries[0].Kind)
	assert.NotEmpty(t, entries[0].ID)
}

func TestRelease_HoldNotElapsed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	holdUntil := testNow.Add(10 * time.Minute)
	repo.PutOrder(heldOrder("ord_1", "biz_A", 500000, holdUntil))
	repo.PutWallet(model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 500000})

	svc := newTestService(t, repo)

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.False(t, res.Released)
	assert.Equal(t, MessageStillHolding, res.Message)
	assert.Equal(t, holdUntil.UnixMilli(), res.HoldUntilMs)

	w, err := repo.GetWallet(context.Background(), "biz_A")
	require.NoError(t, err)
	assert.Equal(t, model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 500000}, w)
	assert.Empty(t, repo.LedgerEntries())
}

func TestRelease_HoldBoundaryIsInclusive(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.PutOrder(heldOrder("ord_1", "biz_A", 100, testNow))

	svc := newTestService(t, repo)

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, res.Released)
}

func TestRelease_Idempotent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.PutOrder(heldOrder("ord_1", "biz_A", 500000, testNow.Add(-time.Minute)))
	repo.PutWallet(model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 500000})

	svc := newTestService(t, repo)

	first, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	require.True(t, first.Released)

	second, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, second.OK())
	assert.False(t, second.Released)
	assert.Equal(t, MessageNotHeld, second.Message)
	assert.Equal(t, model.EscrowStatusReleased, second.EscrowStatus)

	w, err := repo.GetWallet(context.Background(), "biz_A")
	require.NoError(t, err)
	assert.Equal(t, int64(500000), w.AvailableBalanceKobo)
	assert.Equal(t, int64(500000), w.TotalEarnedKobo)
	assert.Len(t, repo.LedgerEntries(), 1)
}

func TestRelease_NotHeldStatuses(t *testing.T) {
	for _, status := range []model.EscrowStatus{model.EscrowStatusReleased, model.EscrowStatusDisputed, ""} {
		t.Run(string(status), func(t *testing.T) {
			repo := repository.NewMemoryRepository()
			o := heldOrder("ord_1", "biz_A", 1000, testNow.Add(-time.Hour))
			o.EscrowStatus = status
			repo.PutOrder(o)

			svc := newTestService(t, repo)

			res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
			require.NoError(t, err)
			assert.True(t, res.OK())
			assert.Equal(t, MessageNotHeld, res.Message)
			assert.Equal(t, status, res.EscrowStatus)

			_, err = repo.GetWallet(context.Background(), "biz_A")
			assert.ErrorIs(t, err, repository.ErrWalletNotFound)
		})
	}
}

func TestRelease_NotFound(t *testing.T) {
	svc := newTestService(t, repository.NewMemoryRepository())

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, MessageOrderNotFound, res.Message)
}

func TestRelease_InvalidOrderData(t *testing.T) {
	tests := []struct {
		name       string
		businessID string
		amountKobo int64
	}{
		{name: "zero amount", businessID: "biz_A", amountKobo: 0},
		{name: "negative amount", businessID: "biz_A", amountKobo: -500},
		{name: "missing business", businessID: "", amountKobo: 500000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemoryRepository()
			repo.PutOrder(heldOrder("ord_1", tt.businessID, tt.amountKobo, testNow.Add(-time.Minute)))
			repo.PutWallet(model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 500000})

			svc := newTestService(t, repo)

			res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
			require.NoError(t, err)
			assert.Equal(t, OutcomeInvalid, res.Outcome)
			assert.Equal(t, MessageInvalidOrder, res.Message)

			o, _ := repo.Order("ord_1")
			assert.Equal(t, model.EscrowStatusHeld, o.EscrowStatus)

			w, err := repo.GetWallet(context.Background(), "biz_A")
			require.NoError(t, err)
			assert.Equal(t, int64(500000), w.PendingBalanceKobo)
			assert.Zero(t, w.AvailableBalanceKobo)
			assert.Empty(t, repo.LedgerEntries())
		})
	}
}

func TestRelease_UnsetHoldReleasesOnDirectCall(t *testing.T) {
	repo := repository.NewMemoryRepository()
	o := heldOrder("ord_1", "biz_A", 700, testNow)
	o.HoldUntilMs = 0
	repo.PutOrder(o)

	svc := newTestService(t, repo)

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, res.Released)
}

func TestRelease_CreatesMissingWallet(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.PutOrder(heldOrder("ord_1", "biz_new", 2500, testNow.Add(-time.Second)))

	svc := newTestService(t, repo)

	_, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)

	w, err := repo.GetWallet(context.Background(), "biz_new")
	require.NoError(t, err)
	assert.Equal(t, int64(-2500), w.PendingBalanceKobo)
	assert.Equal(t, int64(2500), w.AvailableBalanceKobo)
	assert.Equal(t, int64(2500), w.TotalEarnedKobo)
}

func TestRelease_MissingTransactionRecordIsIgnored(t *testing.T) {
	repo := repository.NewMemoryRepository()
	o := heldOrder("ord_1", "biz_A", 1000, testNow.Add(-time.Minute))
	o.PaymentReference = "ref_unknown"
	repo.PutOrder(o)

	svc := newTestService(t, repo)

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, res.Released)

	_, ok := repo.Transaction("ref_unknown")
	assert.False(t, ok)
}

func TestRelease_TransactionRecordErrorDoesNotAbort(t *testing.T) {
	repo := repository.NewMemoryRepository()
	o := heldOrder("ord_1", "biz_A", 1000, testNow.Add(-time.Minute))
	o.PaymentReference = "ref_1"
	repo.PutOrder(o)

	store := &faultyStore{MemoryRepository: repo, failTransaction: true}
	svc := newTestService(t, store)

	res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.True(t, res.Released)

	got, _ := repo.Order("ord_1")
	assert.Equal(t, model.EscrowStatusReleased, got.EscrowStatus)
}

func TestRelease_StoreErrorRollsBack(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.PutOrder(heldOrder("ord_1", "biz_A", 1000, testNow.Add(-time.Minute)))
	repo.PutWallet(model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 1000})

	store := &faultyStore{MemoryRepository: repo, failMarkOrder: errors.New("connection reset by peer")}
	svc := newTestService(t, store)

	_, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
	require.Error(t, err)
	assert.True(t, repository.IsTransient(err))

	w, err := repo.GetWallet(context.Background(), "biz_A")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.PendingBalanceKobo)
	assert.Zero(t, w.AvailableBalanceKobo)

	o, _ := repo.Order("ord_1")
	assert.Equal(t, model.EscrowStatusHeld, o.EscrowStatus)
	assert.Empty(t, repo.LedgerEntries())
}

func TestRelease_ConcurrentCallsCreditOnce(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.PutOrder(heldOrder("ord_1", "biz_A", 500000, testNow.Add(-time.Minute)))
	repo.PutWallet(model.Wallet{BusinessID: "biz_A", PendingBalanceKobo: 500000})

	svc := newTestService(t, repo)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ReleaseEscrowIfEligible(context.Background(), "ord_1")
			assert.NoError(t, err)
			if res.Released {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, released)

	w, err := repo.GetWallet(context.Background(), "biz_A")
	require.NoError(t, err)
	assert.Equal(t, int64(0), w.PendingBalanceKobo)
	assert.Equal(t, int64(500000), w.AvailableBalanceKobo)
	assert.Equal(t, int64(500000), w.TotalEarnedKobo)
	assert.Len(t, repo.LedgerEntries(), 1)
}

func TestGetWallet(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.PutWallet(model.Wallet{BusinessID: "biz_A", AvailableBalanceKobo: 42})

	svc := newTestService(t, repo)

	w, err := svc.GetWallet(context.Background(), "biz_A")
	require.NoError(t, err)
	assert.Equal(t, int64(42), w.AvailableBalanceKobo)

	_, err = svc.GetWallet(context.Background(), "biz_B")
	assert.ErrorIs(t, err, repository.ErrWalletNotFound)
}

// faultyStore подменяет отдельные операции транзакции поверх хранилища в памяти.
type faultyStore struct {
	*repository.MemoryRepository

	failOrderID     string
	failMarkOrder   error
	failTransaction bool
	listErr         error
}

func (s *faultyStore) ListHeldOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryRepository.ListHeldOrders(ctx, limit)
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.MemoryRepository.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, &faultyTx{Tx: tx, store: s})
	})
}

type faultyTx struct {
	repository.Tx
	store *faultyStore
}

func (t *faultyTx) GetOrder(ctx context.Context, id string) (model.Order, error) {
	if id == t.store.failOrderID {
		return model.Order{}, errors.New("get order: broken pipe")
	}
	return t.Tx.GetOrder(ctx, id)
}

func (t *faultyTx) MarkOrderReleased(ctx context.Context, id string, at time.Time) error {
	if t.store.failMarkOrder != nil {
		return t.store.failMarkOrder
	}
	return t.Tx.MarkOrderReleased(ctx, id, at)
}

func (t *faultyTx) MarkTransactionReleased(ctx context.Context, reference string, at time.Time) (bool, error) {
	if t.store.failTransaction {
		return false, errors.New("update transaction: permission denied")
	}
	return t.Tx.MarkTransactionReleased(ctx, reference, at)
}
