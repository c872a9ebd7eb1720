package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeTOML(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Polymarket.GammaHost != "https://gamma-api.polymarket.com" {
		t.Errorf("GammaHost = %q", cfg.Polymarket.GammaHost)
	}
	if cfg.Sync.Interval.Duration != 24*time.Hour {
		t.Errorf("Interval = %v", cfg.Sync.Interval.Duration)
	}
	if cfg.Sync.PageSize != 500 {
		t.Errorf("PageSize = %d", cfg.Sync.PageSize)
	}
	if cfg.Sync.MinLiquidity != 1000 {
		t.Errorf("MinLiquidity = %v", cfg.Sync.MinLiquidity)
	}
	if cfg.Sync.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d", cfg.Sync.RetentionDays)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 8080 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadTOMLOverridesDefaults(t *testing.T) {
	path := writeTOML(t, `
log_level = "debug"

[sync]
interval = "6h"
page_size = 100
min_liquidity = 2500.5

[database]
host = "db.internal"
port = 5433

[server]
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Sync.Interval.Duration != 6*time.Hour {
		t.Errorf("Interval = %v", cfg.Sync.Interval.Duration)
	}
	if cfg.Sync.PageSize != 100 {
		t.Errorf("PageSize = %d", cfg.Sync.PageSize)
	}
	if cfg.Sync.MinLiquidity != 2500.5 {
		t.Errorf("MinLiquidity = %v", cfg.Sync.MinLiquidity)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5433 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Server.Enabled {
		t.Error("Server.Enabled = true, want false")
	}
	// Untouched fields keep their defaults.
	if cfg.Sync.MaxPages != 10 {
		t.Errorf("MaxPages = %d, want default 10", cfg.Sync.MaxPages)
	}
}

func TestLoadEnvOverridesTOML(t *testing.T) {
	path := writeTOML(t, `
[sync]
interval = "6h"

[database]
host = "db.internal"
`)

	t.Setenv("PAMELA_SYNC_INTERVAL", "90m")
	t.Setenv("PAMELA_DATABASE_HOST", "db.override")
	t.Setenv("PAMELA_SYNC_MIN_LIQUIDITY", "50")
	t.Setenv("PAMELA_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PAMELA_DATABASE_RUN_MIGRATIONS", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.Interval.Duration != 90*time.Minute {
		t.Errorf("Interval = %v", cfg.Sync.Interval.Duration)
	}
	if cfg.Database.Host != "db.override" {
		t.Errorf("Host = %q", cfg.Database.Host)
	}
	if cfg.Sync.MinLiquidity != 50 {
		t.Errorf("MinLiquidity = %v", cfg.Sync.MinLiquidity)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Database.RunMigrations {
		t.Error("RunMigrations = true, want false")
	}
}

func TestLoadDatabaseURLAlias(t *testing.T) {
	path := writeTOML(t, "")
	t.Setenv("DATABASE_URL", "postgres://u:p@host:5432/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://u:p@host:5432/db" {
		t.Errorf("DSN = %q", cfg.Database.DSN)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with dsn", func(c *Config) { c.Database.DSN = "postgres://x" }, false},
		{"bad log level", func(c *Config) { c.Database.DSN = "x"; c.LogLevel = "verbose" }, true},
		{"missing gamma host", func(c *Config) { c.Database.DSN = "x"; c.Polymarket.GammaHost = "" }, true},
		{"no database", func(c *Config) { c.Database.Host = "" }, true},
		{"zero interval", func(c *Config) { c.Database.DSN = "x"; c.Sync.Interval.Duration = 0 }, true},
		{"page size too big", func(c *Config) { c.Database.DSN = "x"; c.Sync.PageSize = 501 }, true},
		{"negative liquidity floor", func(c *Config) { c.Database.DSN = "x"; c.Sync.MinLiquidity = -1 }, true},
		{"zero retention", func(c *Config) { c.Database.DSN = "x"; c.Sync.RetentionDays = 0 }, true},
		{"bad server port", func(c *Config) { c.Database.DSN = "x"; c.Server.Port = 70000 }, true},
		{"server disabled ignores port", func(c *Config) { c.Database.DSN = "x"; c.Server.Enabled = false; c.Server.Port = 0 }, false},
		{"telegram token without chat id", func(c *Config) { c.Database.DSN = "x"; c.Notify.TelegramToken = "tok" }, true},
		{"s3 bucket without region", func(c *Config) { c.Database.DSN = "x"; c.S3.Bucket = "b" }, true},
		{"s3 bucket with region", func(c *Config) { c.Database.DSN = "x"; c.S3.Bucket = "b"; c.S3.Region = "us-east-1" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
