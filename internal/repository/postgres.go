package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mybizhub/escrow-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к заказам, кошелькам и транзакциям в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := withRetry(ctx, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках. Используется только при старте:
// выплаты из эскроу не повторяются внутри сервиса.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}

		if !IsTransient(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// RunInTx выполняет fn в одной транзакции. Любая ошибка fn откатывает все изменения.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

const orderColumns = `id, COALESCE(business_id, ''), COALESCE(amount_kobo, 0), escrow_status,
       hold_until_ms, order_status, COALESCE(payment_reference, ''), released_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.BusinessID, &o.AmountKobo, &status,
		&o.HoldUntilMs, &o.OrderStatus, &o.PaymentReference, &o.ReleasedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.EscrowStatus = model.EscrowStatus(status)
	return o, nil
}

// ListHeldOrders возвращает не более limit заказов с удерживаемой оплатой.
// Заказы с заданным сроком удержания идут первыми, по возрастанию срока.
func (r *PostgresRepository) ListHeldOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE escrow_status = $1
		 ORDER BY (hold_until_ms <= 0), hold_until_ms
		 LIMIT $2`,
		string(model.EscrowStatusHeld), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select held orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetWallet возвращает кошелёк продавца.
func (r *PostgresRepository) GetWallet(ctx context.Context, businessID string) (model.Wallet, error) {
	w := model.Wallet{BusinessID: businessID}
	err := r.pool.QueryRow(ctx,
		`SELECT pending_balance_kobo, available_balance_kobo, total_earned_kobo, updated_at
		 FROM wallets
		 WHERE business_id = $1`,
		businessID,
	).Scan(&w.PendingBalanceKobo, &w.AvailableBalanceKobo, &w.TotalEarnedKobo, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Wallet{}, ErrWalletNotFound
		}
		return model.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

type pgTx struct {
	tx pgx.Tx
}

// GetOrder блокирует строку заказа (FOR UPDATE): параллельная выплата того же заказа
// дождётся коммита и увидит уже обновлённый статус.
func (t *pgTx) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE id = $1
		 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (t *pgTx) MarkOrderReleased(ctx context.Context, id string, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orders
		 SET escrow_status = $2, order_status = $3, released_at = $4, updated_at = $4
		 WHERE id = $1`,
		id, string(model.EscrowStatusReleased), model.OrderStatusReleasedToWallet, at,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CreditWallet переносит сумму из ожидающего баланса в доступный. Кошелёк создаётся при отсутствии.
func (t *pgTx) CreditWallet(ctx context.Context, businessID string, amountKobo int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (business_id, pending_balance_kobo, available_balance_kobo, total_earned_kobo, updated_at)
		 VALUES ($1, -$2::bigint, $2::bigint, $2::bigint, $3)
		 ON CONFLICT (business_id) DO UPDATE SET
		     pending_balance_kobo   = wallets.pending_balance_kobo - $2::bigint,
		     available_balance_kobo = wallets.available_balance_kobo + $2::bigint,
		     total_earned_kobo      = wallets.total_earned_kobo + $2::bigint,
		     updated_at             = $3`,
		businessID, amountKobo, at,
	)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

// MarkTransactionReleased обновляет запись платёжного шлюза в точке сохранения,
// чтобы её ошибка не прерывала основную транзакцию.
func (t *pgTx) MarkTransactionReleased(ctx context.Context, reference string, at time.Time) (bool, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}

	tag, err := sp.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE reference = $1`,
		reference, model.TransactionStatusReleased, at,
	)
	if err != nil {
		_ = sp.Rollback(ctx)
		return false, fmt.Errorf("update transaction: %w", err)
	}

	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, entry model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallet_ledger (id, business_id, order_id, amount_kobo, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.BusinessID, entry.OrderID, entry.AmountKobo, entry.Kind, entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrLedgerEntryExists, entry.OrderID)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}
