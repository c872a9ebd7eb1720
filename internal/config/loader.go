package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAMELA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAMELA_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "PAMELA_POLYMARKET_GAMMA_HOST")
	setDuration(&cfg.Polymarket.RequestTimeout, "PAMELA_POLYMARKET_REQUEST_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "PAMELA_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "PAMELA_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PAMELA_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PAMELA_DATABASE_NAME")
	setStr(&cfg.Database.User, "PAMELA_DATABASE_USER")
	setStr(&cfg.Database.Password, "PAMELA_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PAMELA_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "PAMELA_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PAMELA_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PAMELA_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAMELA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAMELA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAMELA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAMELA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAMELA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAMELA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAMELA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAMELA_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAMELA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAMELA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAMELA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAMELA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAMELA_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "PAMELA_SYNC_INTERVAL")
	setDuration(&cfg.Sync.StartupDelay, "PAMELA_SYNC_STARTUP_DELAY")
	setInt(&cfg.Sync.PageSize, "PAMELA_SYNC_PAGE_SIZE")
	setInt(&cfg.Sync.MaxPages, "PAMELA_SYNC_MAX_PAGES")
	setInt(&cfg.Sync.MaxRecords, "PAMELA_SYNC_MAX_RECORDS")
	setFloat64(&cfg.Sync.MinLiquidity, "PAMELA_SYNC_MIN_LIQUIDITY")
	setFloat64(&cfg.Sync.MinVolume, "PAMELA_SYNC_MIN_VOLUME")
	setDuration(&cfg.Sync.AcceptanceGrace, "PAMELA_SYNC_ACCEPTANCE_GRACE")
	setDuration(&cfg.Sync.MarkOffset, "PAMELA_SYNC_MARK_OFFSET")
	setInt(&cfg.Sync.RetentionDays, "PAMELA_SYNC_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAMELA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAMELA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PAMELA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PAMELA_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAMELA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAMELA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAMELA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAMELA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PAMELA_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
