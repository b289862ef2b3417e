package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/txclassifier/internal/core/config"
	"github.com/vietddude/txclassifier/internal/core/events"
	"github.com/vietddude/txclassifier/internal/core/jobs"
	"github.com/vietddude/txclassifier/internal/core/worker"
	"github.com/vietddude/txclassifier/internal/httpapi"
	"github.com/vietddude/txclassifier/internal/infra/firefly"
	"github.com/vietddude/txclassifier/internal/infra/provider"
	redisclient "github.com/vietddude/txclassifier/internal/infra/redis"
	"github.com/vietddude/txclassifier/internal/infra/storage"
	"github.com/vietddude/txclassifier/internal/infra/storage/memory"
	"github.com/vietddude/txclassifier/internal/infra/storage/sqlstore"
	"github.com/vietddude/txclassifier/internal/processing/classify"
	"github.com/vietddude/txclassifier/internal/processing/executor"
	"github.com/vietddude/txclassifier/internal/processing/metrics"
	"github.com/vietddude/txclassifier/internal/processing/retry"
)

// App wires the classifier together and manages its lifecycle.
type App struct {
	cfg         *config.AppConfig
	hub         *events.Hub
	jobs        *jobs.Store
	retries     *retry.Ledger
	history     storage.HistoryRepository
	executor    *executor.Executor
	pruner      *worker.Pruner
	server      *httpapi.Server
	db          *sqlstore.DB
	redisClient *redisclient.Client
	log         *slog.Logger
	cancel      context.CancelFunc
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{
		cfg: cfg,
		log: slog.Default().With("component", "app"),
	}

	// 1. Storage
	var retryRepo storage.RetryRepository
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		store := memory.NewMemoryStorage()
		retryRepo = memory.NewRetryRepo(store)
		app.history = memory.NewHistoryRepo(store)
		app.log.Warn("Using memory storage; retries and history are lost on restart")
	default:
		db, err := sqlstore.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		app.db = db
		retryRepo = sqlstore.NewRetryRepo(db)
		app.history = sqlstore.NewHistoryRepo(db)
		app.log.Info("Using SQL storage", "driver", db.Driver())
	}

	// 2. Events
	app.hub = events.NewHub(
		events.NewLogObserver(slog.Default().With("component", "jobs")),
		metrics.Observer{},
	)

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis.Config)
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redisClient = client
		if cfg.Redis.RetryStore {
			retryRepo = redisclient.NewRetryRepo(client, cfg.Redis.Prefix)
			app.log.Info("Using Redis retry store", "prefix", cfg.Redis.Prefix)
		}
		if cfg.Redis.EventsChannel != "" {
			app.hub.Subscribe(redisclient.NewPublisher(client, cfg.Redis.EventsChannel))
			app.log.Info("Publishing job events", "channel", cfg.Redis.EventsChannel)
		}
	}

	// 3. External services
	llm, err := provider.New(cfg.Classifier)
	if err != nil {
		app.closeStores()
		return nil, err
	}
	ledger := firefly.NewClient(cfg.Firefly)

	// 4. Core
	app.jobs = jobs.NewStore(app.hub)
	app.retries = retry.NewLedger(
		retryRepo,
		retry.Schedule(cfg.Queue.Backoff),
		app.hub,
		retry.WithDeadLetterBuffer(cfg.Queue.DeadLetterBuffer),
	)
	cache := classify.NewCache(app.history, llm)
	execCfg := executor.Config{
		JobTimeout:   cfg.Queue.JobTimeout,
		PollInterval: cfg.Queue.PollInterval,
		StoreTimeout: cfg.Queue.StoreTimeout,
	}
	app.executor = executor.New(execCfg, app.jobs, app.retries, cache, ledger)

	app.pruner = worker.NewPruner(execCfg.StaleAfter(), app.retries)

	// 5. HTTP
	app.server = httpapi.NewServer(httpapi.Config{
		Port:       cfg.Server.Port,
		RateLimit:  cfg.Webhook.RateLimit,
		RateWindow: cfg.Webhook.RateWindow,
	}, httpapi.Deps{
		Submitter: app.executor,
		Jobs:      app.jobs,
		Retries:   app.retries,
		History:   app.history,
		Health:    app.health,
	})

	app.log.Info("Classifier initialized",
		"provider", llm.Name(),
		"storage", cfg.Storage.Driver,
		"backoff", cfg.Queue.Backoff,
	)
	return app, nil
}

// Start recovers interrupted work, then starts processing and intake.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	// Recovered jobs are queued ahead of anything the webhook accepts.
	n, err := a.executor.Recover(ctx)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if n > 0 {
		a.log.Info("Recovered interrupted jobs", "count", n)
	}

	a.executor.Start(ctx)

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()

	go a.pruner.Start(ctx)
	go a.runStatsUpdater(ctx)

	return nil
}

// Stop stops intake, drains the worker and releases stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping classifier...")

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.executor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("executor: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.closeStores()
	return errors.Join(errs...)
}

// Handler exposes the HTTP API without a listener.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

func (a *App) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.Health(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) closeStores() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
		a.redisClient = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
		a.db = nil
	}
}

func (a *App) runStatsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.retries.Stats(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("Failed to refresh retry stats", "error", err)
			}
		}
	}
}
