// Package config содержит логику чтения конфигурации сервиса эскроу.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса эскроу.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	Env          string `env:"ENV" envDefault:"development"`
	ReleaseToken string `env:"RELEASE_TOKEN"`
	SweepToken   string `env:"SWEEP_TOKEN"`

	SweepScanLimit  int           `env:"SWEEP_SCAN_LIMIT" envDefault:"300"`
	SweepBatchLimit int           `env:"SWEEP_BATCH_LIMIT" envDefault:"60"`
	SweepSchedule   string        `env:"SWEEP_SCHEDULE"`
	SweepTimeout    time.Duration `env:"SWEEP_TIMEOUT" envDefault:"90s"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	SweepLeaseTTL time.Duration `env:"SWEEP_LEASE_TTL" envDefault:"90s"`
}

// IsProduction сообщает, запущен ли сервис в боевом окружении.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envReleaseToken := cfg.ReleaseToken
	envSweepToken := cfg.SweepToken
	envSchedule := cfg.SweepSchedule

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty: in-memory store)")
	flag.StringVar(&cfg.ReleaseToken, "t", "", "bearer token for the release endpoint")
	flag.StringVar(&cfg.SweepToken, "s", "", "bearer token for the sweep endpoint")
	flag.StringVar(&cfg.SweepSchedule, "c", "", "cron schedule for in-process sweeps")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envReleaseToken != "" {
		cfg.ReleaseToken = envReleaseToken
	}
	if envSweepToken != "" {
		cfg.SweepToken = envSweepToken
	}
	if envSchedule != "" {
		cfg.SweepSchedule = envSchedule
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.SweepScanLimit <= 0 {
		return nil, fmt.Errorf("SWEEP_SCAN_LIMIT must be positive, got %d", cfg.SweepScanLimit)
	}
	if cfg.SweepBatchLimit <= 0 {
		return nil, fmt.Errorf("SWEEP_BATCH_LIMIT must be positive, got %d", cfg.SweepBatchLimit)
	}

	return cfg, nil
}
