// Package repository содержит реализации хранилища заказов, кошельков и транзакций.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mybizhub/escrow-ledger/internal/model"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrWalletNotFound возвращается, если у продавца ещё нет кошелька.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrLedgerEntryExists возвращается при повторной записи зачисления по тому же заказу.
	ErrLedgerEntryExists = errors.New("ledger entry already exists for order")
)

// Tx описывает операции, доступные внутри одной атомарной транзакции хранилища.
type Tx interface {
	// GetOrder читает заказ и блокирует его до конца транзакции.
	GetOrder(ctx context.Context, id string) (model.Order, error)
	MarkOrderReleased(ctx context.Context, id string, at time.Time) error
	CreditWallet(ctx context.Context, businessID string, amountKobo int64, at time.Time) error
	// MarkTransactionReleased возвращает false, если транзакции с таким reference нет.
	MarkTransactionReleased(ctx context.Context, reference string, at time.Time) (bool, error)
	AppendLedgerEntry(ctx context.Context, entry model.LedgerEntry) error
}

// IsTransient сообщает, что ошибка временная: конфликт транзакций или сбой соединения.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure,
			pgerrcode.DeadlockDetected,
			pgerrcode.LockNotAvailable,
			pgerrcode.AdminShutdown,
			pgerrcode.CannotConnectNow:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
