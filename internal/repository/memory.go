package repository

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mybizhub/escrow-ledger/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Транзакции выполняются строго
// по одной: изменения копятся в снимке и применяются только при успешном завершении.
type MemoryRepository struct {
	mu           sync.Mutex
	orders       map[string]model.Order
	wallets      map[string]model.Wallet
	transactions map[string]model.Transaction
	ledger       []model.LedgerEntry
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:       make(map[string]model.Order),
		wallets:      make(map[string]model.Wallet),
		transactions: make(map[string]model.Transaction),
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// PutOrder сохраняет заказ целиком.
func (r *MemoryRepository) PutOrder(o model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
}

// PutWallet сохраняет кошелёк целиком.
func (r *MemoryRepository) PutWallet(w model.Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[w.BusinessID] = w
}

// PutTransaction сохраняет запись платёжного шлюза.
func (r *MemoryRepository) PutTransaction(t model.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions[t.Reference] = t
}

// Order возвращает копию заказа.
func (r *MemoryRepository) Order(id string) (model.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	return o, ok
}

// Transaction возвращает копию записи платёжного шлюза.
func (r *MemoryRepository) Transaction(reference string) (model.Transaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transactions[reference]
	return t, ok
}

// LedgerEntries возвращает копию журнала зачислений.
func (r *MemoryRepository) LedgerEntries() []model.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ledger)
}

// GetWallet возвращает кошелёк продавца.
func (r *MemoryRepository) GetWallet(ctx context.Context, businessID string) (model.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return model.Wallet{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[businessID]
	if !ok {
		return model.Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

// ListHeldOrders возвращает не более limit заказов с удерживаемой оплатой в том же
// порядке, что и PostgresRepository.
func (r *MemoryRepository) ListHeldOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.IsHeld() {
			res = append(res, o)
		}
	}

	slices.SortFunc(res, func(a, b model.Order) int {
		aUnset, bUnset := a.HoldUntilMs <= 0, b.HoldUntilMs <= 0
		if aUnset != bUnset {
			if aUnset {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(a.HoldUntilMs, b.HoldUntilMs); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if limit >= 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// RunInTx выполняет fn над снимком данных и применяет снимок, если fn завершилась без ошибки.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		orders:       maps.Clone(r.orders),
		wallets:      maps.Clone(r.wallets),
		transactions: maps.Clone(r.transactions),
		ledger:       slices.Clone(r.ledger),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	r.orders = tx.orders
	r.wallets = tx.wallets
	r.transactions = tx.transactions
	r.ledger = tx.ledger
	return nil
}

type memTx struct {
	orders       map[string]model.Order
	wallets      map[string]model.Wallet
	transactions map[string]model.Transaction
	ledger       []model.LedgerEntry
}

func (t *memTx) GetOrder(_ context.Context, id string) (model.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return model.Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (t *memTx) MarkOrderReleased(_ context.Context, id string, at time.Time) error {
	o, ok := t.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	releasedAt := at
	o.EscrowStatus = model.EscrowStatusReleased
	o.OrderStatus = model.OrderStatusReleasedToWallet
	o.ReleasedAt = &releasedAt
	o.UpdatedAt = at
	t.orders[id] = o
	return nil
}

func (t *memTx) CreditWallet(_ context.Context, businessID string, amountKobo int64, at time.Time) error {
	w := t.wallets[businessID]
	w.BusinessID = businessID
	w.PendingBalanceKobo -= amountKobo
	w.AvailableBalanceKobo += amountKobo
	w.TotalEarnedKobo += amountKobo
	w.UpdatedAt = at
	t.wallets[businessID] = w
	return nil
}

func (t *memTx) MarkTransactionReleased(_ context.Context, reference string, at time.Time) (bool, error) {
	tr, ok := t.transactions[reference]
	if !ok {
		return false, nil
	}
	tr.Status = model.TransactionStatusReleased
	tr.UpdatedAt = at
	t.transactions[reference] = tr
	return true, nil
}

func (t *memTx) AppendLedgerEntry(_ context.Context, entry model.LedgerEntry) error {
	for _, e := range t.ledger {
		if e.OrderID == entry.OrderID {
			return fmt.Errorf("%w: %s", ErrLedgerEntryExists, entry.OrderID)
		}
	}
	t.ledger = append(t.ledger, entry)
	return nil
}
