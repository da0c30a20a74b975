package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/example/equipment-availability/internal/logging"
)

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "AVAILABILITY"

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config captures environment driven configuration values for the availability service.
type Config struct {
	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLiteDSN       string        `envconfig:"SQLITE_DSN" default:"file:availability.db"`
	CatalogPath     string        `envconfig:"CATALOG_PATH"`
	CatalogCacheTTL time.Duration `envconfig:"CATALOG_CACHE_TTL" default:"1m"`
	HoldTTL         time.Duration `envconfig:"HOLD_TTL" default:"5m"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	// BatchWorkers of zero uses runtime.NumCPU().
	BatchWorkers int           `envconfig:"BATCH_WORKERS" default:"0"`
	BatchTimeout time.Duration `envconfig:"BATCH_TIMEOUT" default:"10s"`
	// RedisURL enables the distributed hold lock when set.
	RedisURL       string        `envconfig:"REDIS_URL"`
	LockTTL        time.Duration `envconfig:"LOCK_TTL" default:"10s"`
	RateLimitRPS   float64       `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"40"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load parses configuration values from the current process environment.
//
// Defaults apply to optional fields. Missing required values and invalid
// values are reported with localized messages naming every offending key.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		var parseErr *envconfig.ParseError
		if errors.As(err, &parseErr) {
			return Config{}, fmt.Errorf("環境変数の値が不正です: %s", parseErr.KeyName)
		}
		return Config{}, fmt.Errorf("環境変数の読み込みに失敗しました: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.CatalogPath = strings.TrimSpace(cfg.CatalogPath)
	cfg.SQLiteDSN = strings.TrimSpace(cfg.SQLiteDSN)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)

	missing := make([]string, 0, 2)
	invalid := make([]string, 0, 4)

	if cfg.CatalogPath == "" {
		missing = append(missing, key("CATALOG_PATH"))
	}
	switch cfg.StoreDriver {
	case StoreSQLite:
		if cfg.SQLiteDSN == "" {
			missing = append(missing, key("SQLITE_DSN"))
		}
	case StoreMemory:
	default:
		invalid = append(invalid, key("STORE_DRIVER"))
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		invalid = append(invalid, key("HTTP_PORT"))
	}
	for name, d := range map[string]time.Duration{
		"CATALOG_CACHE_TTL": cfg.CatalogCacheTTL,
		"HOLD_TTL":          cfg.HoldTTL,
		"SWEEP_INTERVAL":    cfg.SweepInterval,
		"BATCH_TIMEOUT":     cfg.BatchTimeout,
		"LOCK_TTL":          cfg.LockTTL,
	} {
		if d <= 0 {
			invalid = append(invalid, key(name))
		}
	}
	if cfg.BatchWorkers < 0 {
		invalid = append(invalid, key("BATCH_WORKERS"))
	}
	if cfg.RateLimitRPS < 0 {
		invalid = append(invalid, key("RATE_LIMIT_RPS"))
	}
	if cfg.RateLimitBurst < 0 {
		invalid = append(invalid, key("RATE_LIMIT_BURST"))
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		invalid = append(invalid, key("LOG_LEVEL"))
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// Level returns the parsed log level. Load has already validated it.
func (c Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// RateLimitEnabled reports whether the HTTP surface should throttle clients.
func (c Config) RateLimitEnabled() bool {
	return c.RateLimitRPS > 0
}

func key(name string) string {
	return EnvPrefix + "_" + name
}
