// Package main запускает HTTP-сервер сервиса эскроу.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mybizhub/escrow-ledger/internal/clock"
	"github.com/mybizhub/escrow-ledger/internal/config"
	"github.com/mybizhub/escrow-ledger/internal/escrow"
	"github.com/mybizhub/escrow-ledger/internal/handler"
	"github.com/mybizhub/escrow-ledger/internal/lease"
	"github.com/mybizhub/escrow-ledger/internal/middleware"
	"github.com/mybizhub/escrow-ledger/internal/repository"
	"github.com/mybizhub/escrow-ledger/internal/scheduler"
)

const sweepLeaseKey = "escrow:sweep:lease"

type store interface {
	escrow.Store
	Close() error
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.IsProduction() {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	var repo store
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory store")
		repo = repository.NewMemoryRepository()
	}
	defer repo.Close()

	opts := []escrow.Option{
		escrow.WithScanLimit(cfg.SweepScanLimit),
		escrow.WithBatchLimit(cfg.SweepBatchLimit),
	}

	if cfg.RedisAddr != "" {
		rdb, err := lease.NewClient(cfg.RedisAddr)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rdb.Close()
		opts = append(opts, escrow.WithLease(lease.NewRedisLease(rdb, sweepLeaseKey, cfg.SweepLeaseTTL)))
	}

	svc := escrow.NewService(repo, clock.NewSystem(), logger, opts...)

	releaseAuth := middleware.NewTokenAuth(cfg.ReleaseToken)
	sweepAuth := middleware.NewTokenAuth(cfg.SweepToken)
	if !releaseAuth.Enabled() || !sweepAuth.Enabled() {
		sugar.Warn("RELEASE_TOKEN or SWEEP_TOKEN is empty, endpoint authentication is disabled")
	}

	h := handler.NewHandler(svc, logger, releaseAuth, sweepAuth)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sched *scheduler.Scheduler
	if cfg.SweepSchedule != "" {
		sched = scheduler.New(svc, cfg.SweepSchedule, cfg.SweepTimeout, logger)
		if err := sched.Start(); err != nil {
			sugar.Fatalw("scheduler initialization error", "error", err.Error())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting escrow server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SweepTimeout)
		defer cancel()

		if sched != nil {
			select {
			case <-sched.Stop().Done():
			case <-shutdownCtx.Done():
				sugar.Warn("sweep still running at shutdown")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
