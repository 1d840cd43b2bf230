// Package escrow реализует выплату удерживаемых средств в кошелёк продавца
// и периодический обход заказов с истёкшим сроком удержания.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mybizhub/escrow-ledger/internal/clock"
	"github.com/mybizhub/escrow-ledger/internal/metrics"
	"github.com/mybizhub/escrow-ledger/internal/model"
	"github.com/mybizhub/escrow-ledger/internal/repository"
)

// Сообщения результата выплаты.
const (
	MessageReleased      = "Released to vendor wallet."
	MessageNotHeld       = "Not held"
	MessageStillHolding  = "Still holding"
	MessageInvalidOrder  = "Invalid order data"
	MessageOrderNotFound = "Order not found"
)

// Outcome различает исходы выплаты. Ошибки хранилища возвращаются отдельно, как error.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeNotFound Outcome = "not_found"
	OutcomeInvalid  Outcome = "invalid"
)

// ReleaseResult описывает итог вызова ReleaseEscrowIfEligible.
// Released истинно только если средства зачислены именно в этом вызове.
type ReleaseResult struct {
	Outcome      Outcome
	Message      string
	Released     bool
	EscrowStatus model.EscrowStatus
	HoldUntilMs  int64
}

// OK сообщает, что вызов завершился успешно, в том числе без изменений.
func (r ReleaseResult) OK() bool {
	return r.Outcome == OutcomeOK
}

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
	ListHeldOrders(ctx context.Context, limit int) ([]model.Order, error)
	GetWallet(ctx context.Context, businessID string) (model.Wallet, error)
}

// Lease защищает обход от параллельного запуска на нескольких экземплярах.
type Lease interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

const (
	defaultScanLimit  = 300
	defaultBatchLimit = 60
)

// Service содержит логику выплат из эскроу.
type Service struct {
	store      Store
	clock      clock.Clock
	logger     *zap.Logger
	lease      Lease
	scanLimit  int
	batchLimit int
}

// Option настраивает Service.
type Option func(*Service)

// WithScanLimit ограничивает число заказов, читаемых за один обход.
func WithScanLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// WithBatchLimit ограничивает число выплат за один обход.
func WithBatchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithLease включает аренду обхода.
func WithLease(l Lease) Option {
	return func(s *Service) {
		s.lease = l
	}
}

// NewService создаёт сервис выплат.
func NewService(store Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		clock:      clk,
		logger:     logger,
		scanLimit:  defaultScanLimit,
		batchLimit: defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReleaseEscrowIfEligible в одной транзакции переводит удерживаемую сумму заказа
// в доступный баланс продавца. Повторный вызов для уже выплаченного заказа ничего не меняет.
func (s *Service) ReleaseEscrowIfEligible(ctx context.Context, orderID string) (ReleaseResult, error) {
	var (
		result       ReleaseResult
		creditedKobo int64
	)

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.clock.Now()

		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				result = ReleaseResult{Outcome: OutcomeNotFound, Message: MessageOrderNotFound}
				return nil
			}
			return err
		}

		if !order.IsHeld() {
			result = ReleaseResult{
				Outcome:      OutcomeOK,
				Message:      MessageNotHeld,
				EscrowStatus: order.EscrowStatus,
			}
			return nil
		}

		if !order.HoldElapsed(now) {
			result = ReleaseResult{
				Outcome:      OutcomeOK,
				Message:      MessageStillHolding,
				EscrowStatus: order.EscrowStatus,
				HoldUntilMs:  order.HoldUntilMs,
			}
			return nil
		}

		if !order.ValidForRelease() {
			result = ReleaseResult{Outcome: OutcomeInvalid, Message: MessageInvalidOrder}
			return nil
		}

		if err := tx.CreditWallet(ctx, order.BusinessID, order.AmountKobo, now); err != nil {
			return err
		}
		if err := tx.MarkOrderReleased(ctx, order.ID, now); err != nil {
			return err
		}
		if err := tx.AppendLedgerEntry(ctx, model.LedgerEntry{
			ID:         uuid.NewString(),
			BusinessID: order.BusinessID,
			OrderID:    order.ID,
			AmountKobo: order.AmountKobo,
			Kind:       model.LedgerKindEscrowRelease,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		if order.PaymentReference != "" {
			found, err := tx.MarkTransactionReleased(ctx, order.PaymentReference, now)
			switch {
			case err != nil:
				s.logger.Warn("mark transaction released failed",
					zap.String("orderID", order.ID),
					zap.String("reference", order.PaymentReference),
					zap.Error(err))
			case !found:
				s.logger.Debug("transaction record not found",
					zap.String("orderID", order.ID),
					zap.String("reference", order.PaymentReference))
			}
		}

		creditedKobo = order.AmountKobo
		result = ReleaseResult{
			Outcome:      OutcomeOK,
			Message:      MessageReleased,
			Released:     true,
			EscrowStatus: model.EscrowStatusReleased,
			HoldUntilMs:  order.HoldUntilMs,
		}
		return nil
	})
	if err != nil {
		metrics.EscrowReleasesTotal.WithLabelValues(storeErrorLabel(err)).Inc()
		return ReleaseResult{}, fmt.Errorf("release escrow %s: %w", orderID, err)
	}

	metrics.EscrowReleasesTotal.WithLabelValues(resultLabel(result)).Inc()
	if result.Released {
		metrics.EscrowReleasedKoboTotal.Add(float64(creditedKobo))
		s.logger.Info("escrow released",
			zap.String("orderID", orderID),
			zap.Int64("amountKobo", creditedKobo))
	}

	return result, nil
}

// GetWallet возвращает балансы продавца.
func (s *Service) GetWallet(ctx context.Context, businessID string) (model.Wallet, error) {
	return s.store.GetWallet(ctx, businessID)
}

func resultLabel(r ReleaseResult) string {
	switch {
	case r.Released:
		return "released"
	case r.Message == MessageNotHeld:
		return "not_held"
	case r.Message == MessageStillHolding:
		return "holding"
	default:
		return string(r.Outcome)
	}
}

func storeErrorLabel(err error) string {
	if repository.IsTransient(err) {
		return "transient_error"
	}
	return "store_error"
}
