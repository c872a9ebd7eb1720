// Package config defines the top-level configuration for the pamela market
// sync service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAMELA_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Sync       SyncConfig       `toml:"sync"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds upstream listings API parameters.
type PolymarketConfig struct {
	GammaHost      string   `toml:"gamma_host"`
	RequestTimeout duration `toml:"request_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the market read cache.
// An empty Addr disables the cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cold-storage
// archive of purged markets. An empty Bucket disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig holds the market synchronization engine policy. The grace
// windows and pagination ceilings are deployment policy, not invariants, so
// they all live here rather than in code.
type SyncConfig struct {
	Interval     duration `toml:"interval"`      // time between scheduled passes
	StartupDelay duration `toml:"startup_delay"` // wait before the first pass

	PageSize   int `toml:"page_size"`   // upstream page size (API-capped)
	MaxPages   int `toml:"max_pages"`   // hard ceiling on pages per pass
	MaxRecords int `toml:"max_records"` // hard ceiling on records per pass

	MinLiquidity float64 `toml:"min_liquidity"` // acceptance floor, USD
	MinVolume    float64 `toml:"min_volume"`    // acceptance floor, USD

	AcceptanceGrace duration `toml:"acceptance_grace"` // past end dates tolerated this long
	MarkOffset      duration `toml:"mark_offset"`      // mark-for-review backdating step
	RetentionDays   int      `toml:"retention_days"`   // purge markets ended longer ago
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // empty disables authentication
}

// NotifyConfig holds operator notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "24h" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config pre-populated with sane defaults. Load merges the
// TOML file and environment overrides on top of these.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:      "https://gamma-api.polymarket.com",
			RequestTimeout: duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pamela",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Sync: SyncConfig{
			Interval:        duration{24 * time.Hour},
			StartupDelay:    duration{30 * time.Second},
			PageSize:        500,
			MaxPages:        10,
			MaxRecords:      5000,
			MinLiquidity:    1000,
			MinVolume:       0,
			AcceptanceGrace: duration{24 * time.Hour},
			MarkOffset:      duration{time.Second},
			RetentionDays:   30,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.RequestTimeout.Duration <= 0 {
		errs = append(errs, "polymarket: request_timeout must be positive")
	}

	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "") {
		errs = append(errs, "database: either dsn or host/database/user must be set")
	}

	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be positive")
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 500 {
		errs = append(errs, fmt.Sprintf("sync: page_size must be in (0, 500], got %d", c.Sync.PageSize))
	}
	if c.Sync.MaxPages <= 0 {
		errs = append(errs, "sync: max_pages must be positive")
	}
	if c.Sync.MaxRecords <= 0 {
		errs = append(errs, "sync: max_records must be positive")
	}
	if c.Sync.MinLiquidity < 0 || c.Sync.MinVolume < 0 {
		errs = append(errs, "sync: liquidity/volume floors must not be negative")
	}
	if c.Sync.AcceptanceGrace.Duration < 0 {
		errs = append(errs, "sync: acceptance_grace must not be negative")
	}
	if c.Sync.MarkOffset.Duration <= 0 {
		errs = append(errs, "sync: mark_offset must be positive")
	}
	if c.Sync.RetentionDays <= 0 {
		errs = append(errs, "sync: retention_days must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be in (0, 65535], got %d", c.Server.Port))
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region is required when bucket is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
