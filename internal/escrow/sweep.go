package escrow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mybizhub/escrow-ledger/internal/metrics"
	"github.com/mybizhub/escrow-ledger/internal/model"
)

// SweepResult содержит счётчики одного обхода.
// Deferred считает заказы к выплате, не вошедшие в пакет; их заберёт следующий обход.
type SweepResult struct {
	ScannedHeld int `json:"scannedHeld"`
	Due         int `json:"due"`
	Released    int `json:"released"`
	Skipped     int `json:"skipped"`
	Deferred    int `json:"deferred"`
}

// SweepDueEscrow выплачивает заказы с истёкшим сроком удержания. Ошибка по одному заказу
// не останавливает обработку остальных; ошибкой всего обхода считается только сбой чтения.
func (s *Service) SweepDueEscrow(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	if s.lease != nil {
		release, ok, err := s.lease.Acquire(ctx)
		if err != nil {
			metrics.SweepRunsTotal.WithLabelValues("error").Inc()
			return SweepResult{}, fmt.Errorf("acquire sweep lease: %w", err)
		}
		if !ok {
			metrics.SweepRunsTotal.WithLabelValues("busy").Inc()
			s.logger.Info("sweep already running elsewhere, skipping")
			return SweepResult{}, nil
		}
		defer release()
	}

	held, err := s.store.ListHeldOrders(ctx, s.scanLimit)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return SweepResult{}, fmt.Errorf("list held orders: %w", err)
	}

	now := s.clock.Now()
	due := make([]model.Order, 0, len(held))
	for _, o := range held {
		if o.DueForSweep(now) {
			due = append(due, o)
		}
	}

	res := SweepResult{
		ScannedHeld: len(held),
		Due:         len(due),
	}

	batch := due
	if len(batch) > s.batchLimit {
		batch = batch[:s.batchLimit]
	}
	res.Deferred = len(due) - len(batch)

	for i, o := range batch {
		if ctx.Err() != nil {
			res.Deferred += len(batch) - i
			break
		}

		r, err := s.ReleaseEscrowIfEligible(ctx, o.ID)
		switch {
		case err != nil:
			res.Skipped++
			s.logger.Warn("escrow release skipped",
				zap.String("orderID", o.ID),
				zap.Error(err))
		case !r.OK():
			res.Skipped++
			s.logger.Warn("escrow release skipped",
				zap.String("orderID", o.ID),
				zap.String("reason", r.Message))
		case r.Released:
			res.Released++
		}
	}

	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	metrics.SweepOrdersTotal.WithLabelValues("released").Add(float64(res.Released))
	metrics.SweepOrdersTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
	metrics.SweepOrdersTotal.WithLabelValues("deferred").Add(float64(res.Deferred))

	s.logger.Info("escrow sweep finished",
		zap.Int("scannedHeld", res.ScannedHeld),
		zap.Int("due", res.Due),
		zap.Int("released", res.Released),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred))

	return res, nil
}
