// Package app owns the application lifecycle: it wires the stores, cache,
// blob archive, sync engine, scheduler, and HTTP API together and supervises
// them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theSchein/pamela-sub002/internal/config"
	"github.com/theSchein/pamela-sub002/internal/server"
	"github.com/theSchein/pamela-sub002/internal/server/handler"
	"github.com/theSchein/pamela-sub002/internal/service"
	syncer "github.com/theSchein/pamela-sub002/internal/sync"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 15 * time.Second

// App is the root application object. It owns the configuration, logger,
// and the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the scheduler and (when enabled) the
// HTTP server, and blocks until the context is cancelled or a component
// fails. Cleanup functions run on return.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Duration("sync_interval", a.cfg.Sync.Interval.Duration),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	engine := syncer.NewEngine(
		deps.Fetcher,
		deps.MarketStore,
		deps.SyncRunStore,
		deps.MarketCache,
		deps.BlobWriter,
		syncer.Policy{
			PageSize:        a.cfg.Sync.PageSize,
			MaxPages:        a.cfg.Sync.MaxPages,
			MaxRecords:      a.cfg.Sync.MaxRecords,
			MinLiquidity:    a.cfg.Sync.MinLiquidity,
			MinVolume:       a.cfg.Sync.MinVolume,
			AcceptanceGrace: a.cfg.Sync.AcceptanceGrace.Duration,
			MarkOffset:      a.cfg.Sync.MarkOffset.Duration,
			Retention:       time.Duration(a.cfg.Sync.RetentionDays) * 24 * time.Hour,
		},
		a.logger,
	)

	scheduler := syncer.NewScheduler(
		engine,
		a.cfg.Sync.Interval.Duration,
		a.cfg.Sync.StartupDelay.Duration,
		deps.Notifier,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		markets := service.NewMarketService(deps.MarketStore, deps.MarketCache, a.logger)

		probes := map[string]handler.Pinger{
			"postgres": deps.Postgres,
		}
		if deps.Redis != nil {
			probes["redis"] = deps.Redis
		}
		if deps.S3 != nil {
			probes["s3"] = pingFunc(deps.S3.Health)
		}

		srv := server.NewServer(
			server.Config{
				Port:        a.cfg.Server.Port,
				CORSOrigins: a.cfg.Server.CORSOrigins,
				APIKey:      a.cfg.Server.APIKey,
			},
			server.Handlers{
				Health:  handler.NewHealthHandler(probes, a.logger),
				Markets: handler.NewMarketHandler(markets, a.logger),
				Sync:    handler.NewSyncHandler(scheduler, deps.SyncRunStore, a.logger),
			},
			a.logger,
		)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// pingFunc adapts a plain health function to the handler.Pinger interface.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
