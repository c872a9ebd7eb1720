package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/theSchein/pamela-sub002/internal/blob/s3"
	"github.com/theSchein/pamela-sub002/internal/cache/redis"
	"github.com/theSchein/pamela-sub002/internal/config"
	"github.com/theSchein/pamela-sub002/internal/domain"
	"github.com/theSchein/pamela-sub002/internal/notify"
	"github.com/theSchein/pamela-sub002/internal/platform/polymarket"
	"github.com/theSchein/pamela-sub002/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the service needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Upstream
	Fetcher domain.MarketFetcher

	// Stores
	MarketStore  domain.MarketStore
	SyncRunStore domain.SyncRunStore

	// Cache; nil when Redis is not configured.
	MarketCache domain.MarketCache

	// Blob storage; nil when no S3 bucket is configured.
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by component name; used by the health endpoint.
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function to be called on
// shutdown. Redis and S3 are optional; an empty redis addr or s3 bucket
// leaves the corresponding dependency nil.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	deps.Fetcher = polymarket.NewGammaClient(
		cfg.Polymarket.GammaHost,
		cfg.Polymarket.RequestTimeout.Duration,
	)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.SyncRunStore = postgres.NewSyncRunStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.MarketCache = redis.NewMarketCache(redisClient)
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
