package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type SchedulerConfig struct {
	ScanEvery                time.Duration
	PortfolioSnapshotEvery   time.Duration
	LeaderboardSnapshotEvery time.Duration
	MinParticipants          int
	EntryBudget              decimal.Decimal
	RehydrateTimers          bool
	LeaderboardCacheTTL      time.Duration
}

// BackendConfig is shared by the API and the worker.
type BackendConfig struct {
	Store       string
	DatabaseURL string
	Migrate     bool
	RedisURL    string
	NATSURL     string
	LogLevel    slog.Level
	Scheduler   SchedulerConfig
}

type APIConfig struct {
	BackendConfig
	Addr         string
	AdminToken   string
	RunScheduler bool
}

type WorkerConfig struct {
	BackendConfig
	MetricsAddr string
	RunOnce     bool
}

type CLIConfig struct {
	APIBaseURL string
	AdminToken string
}

// LoadDotEnv reads .env from the working directory when present. Variables already
// set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STOCKARENA_API_ADDR", ":8080")
	}

	backend, err := loadBackend()
	cfg := APIConfig{
		BackendConfig: backend,
		Addr:          addr,
		AdminToken:    strings.TrimSpace(os.Getenv("STOCKARENA_ADMIN_TOKEN")),
		RunScheduler:  envBoolDefault("STOCKARENA_API_RUN_SCHEDULER", true),
	}
	if err != nil {
		return cfg, err
	}
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("STOCKARENA_ADMIN_TOKEN is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	backend, err := loadBackend()
	cfg := WorkerConfig{
		BackendConfig: backend,
		MetricsAddr:   envDefault("STOCKARENA_METRICS_ADDR", ":9090"),
		RunOnce:       envBoolDefault("STOCKARENA_WORKER_RUN_ONCE", false),
	}
	return cfg, err
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("ARENACTL_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminToken: strings.TrimSpace(os.Getenv("ARENACTL_ADMIN_TOKEN")),
	}
}

func loadBackend() (BackendConfig, error) {
	cfg := BackendConfig{
		Store:       strings.ToLower(envDefault("STOCKARENA_STORE", StorePostgres)),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Migrate:     envBoolDefault("STOCKARENA_MIGRATE", true),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		LogLevel:    envLogLevel("STOCKARENA_LOG_LEVEL", slog.LevelInfo),
		Scheduler: SchedulerConfig{
			ScanEvery:                envDurationDefault("STOCKARENA_SCAN_EVERY", time.Minute),
			PortfolioSnapshotEvery:   envDurationDefault("STOCKARENA_PORTFOLIO_SNAPSHOT_EVERY", 5*time.Minute),
			LeaderboardSnapshotEvery: envDurationDefault("STOCKARENA_LEADERBOARD_SNAPSHOT_EVERY", 10*time.Minute),
			MinParticipants:          envIntDefault("STOCKARENA_MIN_PARTICIPANTS", 2),
			EntryBudget:              envDecimalDefault("STOCKARENA_ENTRY_BUDGET", decimal.NewFromInt(100)),
			RehydrateTimers:          envBoolDefault("STOCKARENA_REHYDRATE_TIMERS", true),
			LeaderboardCacheTTL:      envDurationDefault("STOCKARENA_LEADERBOARD_CACHE_TTL", 30*time.Second),
		},
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("STOCKARENA_STORE must be %s or %s, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	if cfg.Scheduler.MinParticipants < 1 {
		return cfg, fmt.Errorf("STOCKARENA_MIN_PARTICIPANTS must be >= 1")
	}
	if !cfg.Scheduler.EntryBudget.IsPositive() {
		return cfg, fmt.Errorf("STOCKARENA_ENTRY_BUDGET must be > 0")
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDecimalDefault(key string, fallback decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLogLevel(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
