// Package scheduler запускает обход эскроу по расписанию cron внутри процесса.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mybizhub/escrow-ledger/internal/escrow"
)

// Sweeper выполняет один обход эскроу.
type Sweeper interface {
	SweepDueEscrow(ctx context.Context) (escrow.SweepResult, error)
}

// Scheduler управляет заданием обхода.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	logger   *zap.Logger
	schedule string
	timeout  time.Duration
}

// New создаёт планировщик. Запуски, пересекающиеся с незавершённым обходом, пропускаются.
func New(sweeper Sweeper, schedule string, timeout time.Duration, logger *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		logger:   logger,
		schedule: schedule,
		timeout:  timeout,
	}
}

// Start регистрирует задание и запускает планировщик.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("schedule escrow sweep %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled escrow sweep", zap.String("schedule", s.schedule))

	s.cron.Start()
	return nil
}

// Stop останавливает планировщик; возвращённый контекст завершится после текущего обхода.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.sweeper.SweepDueEscrow(ctx); err != nil {
		s.logger.Error("scheduled escrow sweep failed", zap.Error(err))
	}
}
