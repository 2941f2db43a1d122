package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/api"
	"github.com/notifyhub/actionqueue/internal/config"
	"github.com/notifyhub/actionqueue/internal/db"
	"github.com/notifyhub/actionqueue/internal/metrics"
	"github.com/notifyhub/actionqueue/internal/provider"
	"github.com/notifyhub/actionqueue/internal/queue"
	"github.com/notifyhub/actionqueue/internal/ratelimiter"
	"github.com/notifyhub/actionqueue/internal/repository"
	"github.com/notifyhub/actionqueue/internal/service"
	"github.com/notifyhub/actionqueue/internal/worker"
)

func newServeCommand() *cobra.Command {
	var autostart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, autostart)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&autostart, "start", true, "start the queue as soon as the server is up")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, autostart bool) error {
	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// ---- execution journal ----
	repo, closeRepo, err := openJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	onAdded, onStarted, onFinished := m.QueueHooks()

	exec := provider.Router{
		Webhook:  provider.NewWebhookProvider(cfg.ProviderTimeout, cfg.ProviderMaxTries),
		Fallback: provider.NewSimulatedProvider(cfg.SimulatedSteps, cfg.SimulatedStepDelay),
	}
	opts := service.Options{
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		Hooks: queue.MetricHooks{
			OnAdded:    onAdded,
			OnStarted:  onStarted,
			OnFinished: onFinished,
		},
	}
	if l := ratelimiter.New(cfg.RateLimit); l != nil {
		opts.Limiter = l
	}
	svc, err := service.NewJobService(ctx, exec, repo, opts, logger)
	if err != nil {
		return fmt.Errorf("create job service: %w", err)
	}

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	workers := worker.NewPool(logger)
	workers.Add("journal", worker.NewJournalWorker(
		svc.Queue().SubscribeEvents(), svc.Lookup, repo, logger.Named("journal")))
	workers.Add("state-reporter", worker.NewStateReporter(svc.Queue().States, m.SetQueueState))
	workers.Start(workerCtx)

	if autostart {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start queue: %w", err)
		}
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(svc, reg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("concurrency_limit", cfg.ConcurrencyLimit),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Info("context cancelled")
	case runErr = <-serveErr:
		logger.Error("server error", zap.Error(runErr))
	}

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop starting jobs, then cancel the running ones and wait for them.
	svc.Stop()
	svc.Close()

	// 3. Let the observers drain what the queue published on its way out.
	cancelWorkers()
	workers.Wait()

	logger.Info("server stopped cleanly")
	return runErr
}

// openJournal selects the execution repository named by cfg.DatabaseURL and
// applies its migrations.
func openJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.ExecutionRepository, func(), error) {
	dialect, path, err := db.ParseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	switch dialect {
	case db.DialectPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.DatabaseURL, db.PoolSize{Max: cfg.DBMaxConns, Min: cfg.DBMinConns})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := db.MigratePostgres(cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied", zap.String("dialect", string(dialect)))
		return repository.NewPgExecutionRepository(pool), pool.Close, nil

	case db.DialectSqlite:
		sqlDB, err := db.OpenSqlite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigrateSqlite(sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied",
			zap.String("dialect", string(dialect)), zap.String("path", path))
		return repository.NewSqliteExecutionRepository(sqlDB), func() { _ = sqlDB.Close() }, nil
	}

	logger.Info("execution journal kept in memory")
	return repository.NewMockExecutionRepository(), func() {}, nil
}
