package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"finpath-insight/internal/alerting"
	"finpath-insight/internal/config"
	"finpath-insight/internal/fallback"
	"finpath-insight/internal/fetcher"
	"finpath-insight/internal/freshness"
	"finpath-insight/internal/ratelimit"
	"finpath-insight/internal/refresh"
	"finpath-insight/internal/scheduler"
	"finpath-insight/internal/server"
	"finpath-insight/internal/service"
	"finpath-insight/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// runtime is the wired orchestrator plus everything that must be closed.
type runtime struct {
	store    storage.Backend
	registry *fetcher.Registry
	service  *service.Service
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if a.Config.Database.Driver == config.DriverMemory || a.Config.Database.Driver == "" {
		a.Logger.Warn().Msg("database.driver is memory; cache is not persisted across restarts")
	}
	return store, nil
}

func (a *App) newLimiter(ctx context.Context) (ratelimit.Limiter, func(), error) {
	quotas := ratelimit.QuotasFromConfig(a.Config.RateLimit)
	if a.Config.Redis.Addr == "" {
		a.Logger.Info().Msg("redis.addr not configured; rate limit windows are per process")
		limiter, err := ratelimit.NewMemoryLimiter(quotas)
		return limiter, func() {}, err
	}

	rdb, err := ratelimit.NewRedisClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, nil, err
	}
	limiter, err := ratelimit.NewRedisLimiter(rdb, quotas, a.Config.RateLimit.KeyPrefix)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return limiter, func() { _ = rdb.Close() }, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	a.Logger.Warn().Msg("alerting enabled but no channel configured")
	return nil
}

// build wires store, limiter, providers, fallback chain and orchestrator.
func (a *App) build(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	limiter, closeLimiter, err := a.newLimiter(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeLimiter)

	policy, err := freshness.New(a.Config.Freshness.TTLs())
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.registry = fetcher.FromConfig(a.Config.Providers, a.Logger)
	if len(rt.registry.Names()) == 0 {
		a.Logger.Warn().Msg("no providers enabled; only cached data can be served")
	}
	chain := fallback.New(rt.registry, a.Config.Fallback.Orders(), a.Logger)

	rt.service = service.New(store, limiter, policy, chain, a.Logger,
		service.WithExemptCacheHits(a.Config.RateLimit.ExemptCacheHits),
		service.WithBatchWorkers(a.Config.Refresh.Workers),
	)
	return rt, nil
}

func (a *App) newRefresher(rt *runtime) *refresh.Refresher {
	return refresh.New(rt.service, a.newNotifier(), refresh.Options{
		Symbols:      a.Config.Refresh.Symbols,
		Indices:      a.Config.Refresh.Indices,
		Workers:      a.Config.Refresh.Workers,
		ThresholdPct: a.Config.Alerting.ThresholdPct,
		Cooldown:     a.Config.Alerting.Cooldown,
	}, a.Logger)
}

// Serve runs the HTTP API and, when enabled, the background refresh loop.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var sched *scheduler.Scheduler
	if a.Config.Refresh.Enabled {
		sched, err = scheduler.New(scheduler.Options{
			Interval:       a.Config.Refresh.Interval,
			AlignToStart:   a.Config.Refresh.AlignToBucket,
			StartupDelay:   a.Config.Refresh.StartupDelay,
			RunImmediately: true,
		}, a.Logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := server.New(a.Config.Server, rt.service, a.Logger)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if sched != nil {
		refresher := a.newRefresher(rt)
		g.Go(func() error {
			return sched.Run(gctx, refresher.Tick)
		})
	}

	a.Logger.Info().Strs("providers", rt.registry.Names()).Msg("starting market data service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("market data service stopped")
	return nil
}

// Warm runs one refresh pass over the configured watchlist.
func (a *App) Warm(ctx context.Context) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := a.newRefresher(rt).Refresh(ctx)
	fmt.Fprintf(a.Out, "warmed: %d  stale: %d  failed: %d  alerts: %d\n",
		summary.Warmed, summary.Stale, summary.Failed, summary.Alerts)
	return err
}

// Migrate creates the cache tables.
func (a *App) Migrate(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Str("driver", a.Config.Database.Driver).Msg("cache schema is up to date")
	return nil
}

// GetOptions describe a one-off request made from the CLI.
type GetOptions struct {
	DataType string
	Key      string
	Period   string
	Limit    int
	Identity string
	Tier     string
}

// ExportOptions hold parameters for exporting cached history.
type ExportOptions struct {
	Symbol    string
	Period    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	DataType string
	Limit    int
}
