package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/egldtax/internal/blob/s3"
	"github.com/alanyoungcy/egldtax/internal/cache"
	"github.com/alanyoungcy/egldtax/internal/cache/memory"
	"github.com/alanyoungcy/egldtax/internal/cache/redis"
	"github.com/alanyoungcy/egldtax/internal/config"
	"github.com/alanyoungcy/egldtax/internal/domain"
	"github.com/alanyoungcy/egldtax/internal/notify"
	"github.com/alanyoungcy/egldtax/internal/pipeline"
	"github.com/alanyoungcy/egldtax/internal/platform/multiversx"
	"github.com/alanyoungcy/egldtax/internal/progress"
	"github.com/alanyoungcy/egldtax/internal/reconcile"
	"github.com/alanyoungcy/egldtax/internal/retry"
	"github.com/alanyoungcy/egldtax/internal/server/handler"
	"github.com/alanyoungcy/egldtax/internal/service"
	"github.com/alanyoungcy/egldtax/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Explorer *multiversx.Client

	// Optional infrastructure; nil when disabled.
	Redis    *redis.Client
	Postgres *postgres.Client
	S3       *s3blob.Client

	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Progress fan-out. Relay is set only when a SignalBus exists.
	Progress *progress.Registry
	Relay    *progress.Relay

	Reports  *service.ReportService
	Notifier *notify.Notifier
}

// HealthChecks returns a probe per enabled backend.
func (d *Dependencies) HealthChecks() map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)
	if d.Redis != nil {
		checks["redis"] = d.Redis.Ping
	}
	if d.Postgres != nil {
		checks["postgres"] = func(ctx context.Context) error { return d.Postgres.Pool().Ping(ctx) }
	}
	if d.S3 != nil {
		checks["s3"] = d.S3.Health
	}
	return checks
}

// Wire constructs all concrete implementations from cfg and returns them
// together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Explorer: multiversx.NewClient(cfg.Explorer.BaseURL, cfg.Explorer.Timeout.Duration),
		Progress: progress.NewRegistry(),
	}

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Explorer.RetryAttempts,
		BaseDelay:   cfg.Explorer.RetryBaseDelay.Duration,
		MaxDelay:    cfg.Explorer.RetryMaxDelay.Duration,
		IsRetryable: multiversx.IsTransient,
		Logger:      logger,
	}

	var (
		sharedDecimals domain.DecimalsCache
		remoteReports  cache.RemoteCache
		locks          domain.LockManager
		reporter       progress.Reporter = deps.Progress
	)

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Relay = progress.NewRelay(deps.Progress, deps.SignalBus, logger)
		reporter = deps.Relay
		sharedDecimals = redis.NewDecimalsCache(rc)
		remoteReports = redis.NewReportCache(rc)
		locks = redis.NewLockManager(rc)
	}

	// --- PostgreSQL ---
	var store domain.ReportStore
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Postgres = pg
		store = postgres.NewReportStore(pg.Pool())
	}

	// --- S3 ---
	var exporter domain.ReportExporter
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		deps.S3 = sc
		exporter = s3blob.NewExporter(s3blob.NewWriter(sc, int64(cfg.S3.PartSizeMB)<<20), cfg.S3.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramAPI, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Reconciliation ---
	decimals := service.NewDecimalsResolver(
		deps.Explorer,
		cfg.Reconcile.KnownDecimals,
		memory.NewDecimalsCache(),
		sharedDecimals,
		cfg.Explorer.DecimalsTimeout.Duration,
		logger,
	)
	engine, err := reconcile.NewEngine(deps.Explorer, decimals, reconcile.Config{
		RewardFunctions: cfg.Reconcile.RewardFunctions,
		RewardTokens:    cfg.Reconcile.RewardTokens,
		LPPattern:       cfg.Reconcile.LPPattern,
		WrappedToken:    cfg.Reconcile.WrappedToken,
		DetailDelay:     cfg.Reconcile.DetailDelay.Duration,
		Retry:           retryPolicy,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: reconcile engine: %w", err)
	}

	paging := pipeline.PagingConfig{
		PageSize:  cfg.Explorer.PageSize,
		MaxOffset: cfg.Explorer.MaxOffset,
		PageDelay: cfg.Explorer.PageDelay.Duration,
		Retry:     retryPolicy,
	}

	deps.Reports = service.NewReportService(service.ReportDeps{
		Accounts:     deps.Explorer,
		Transactions: pipeline.NewTransactionFetcher(deps.Explorer, paging, logger),
		Transfers:    pipeline.NewTransferFetcher(deps.Explorer, paging, logger),
		Classifier:   reconcile.NewClassifier(cfg.Reconcile.WatchedFunctions),
		Engine:       engine,
		Progress:     reporter,
		Cache:        cache.NewTieredReportCache(cfg.Cache.LocalSizeMB, remoteReports),
		Store:        store,
		Exporter:     exporter,
		Locks:        locks,
		Notifier:     deps.Notifier,
	}, service.ReportConfig{
		CacheTTL: cfg.Cache.ReportTTL.Duration,
		LockTTL:  cfg.Cache.LockTTL.Duration,
	}, logger)

	return deps, cleanup, nil
}
