// Package main выполняет один обход эскроу через HTTP API сервиса.
// Предназначен для внешних планировщиков (Kubernetes CronJob, systemd timer).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/mybizhub/escrow-ledger/internal/sweepclient"
)

type config struct {
	EscrowAddress string        `env:"ESCROW_ADDRESS" envDefault:"localhost:8080"`
	SweepToken    string        `env:"SWEEP_TOKEN"`
	Timeout       time.Duration `env:"SWEEP_TIMEOUT" envDefault:"90s"`
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal("configuration error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client := sweepclient.NewClient(cfg.EscrowAddress, cfg.SweepToken, cfg.Timeout)

	res, err := client.Trigger(ctx)
	if err != nil {
		logger.Error("escrow sweep failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("escrow sweep triggered",
		zap.Int("scannedHeld", res.ScannedHeld),
		zap.Int("due", res.Due),
		zap.Int("released", res.Released),
		zap.Int("skipped", res.Skipped),
		zap.Int("deferred", res.Deferred))
}
