// Conveyor Server — принимает события и выполняет pipeline.
//
// Server:
//   - Принимает события через HTTP API (/api/v1/events) и RabbitMQ (events.trigger)
//   - Создаёт run на каждую метку runs_on и выполняет их, не более max_concurrent_runs одновременно
//   - Запускает pipeline по cron-расписаниям из секции on.schedule
//   - Перечитывает файл pipeline при изменении
//   - Хранит историю run и публикует run.finished
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// shutdownTimeout — сколько ждать завершения run и HTTP запросов при остановке.
const shutdownTimeout = 30 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-server")

	if err := run(logger); err != nil {
		logger.Error("conveyor-server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("conveyor-server stopped")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"sources", cfg.Sources,
		"store_backend", cfg.StoreBackend,
		"cache_backend", cfg.CacheBackend,
		"pipeline_file", cfg.PipelineFile,
	)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	// DB pool, если хотя бы одно хранилище в PostgreSQL
	var pool *pgxpool.Pool
	if cfg.StoreBackend == config.BackendPostgres || cfg.CacheBackend == config.BackendPostgres {
		pool, err = repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")
	}

	// История run
	var store repo.RunStore = repo.NewMemoryRunRepo()
	if cfg.StoreBackend == config.BackendPostgres {
		store = repo.NewRunRepo(pool)
	}

	// Кэш зависимостей
	var cacheStore cache.Store
	switch cfg.CacheBackend {
	case config.BackendPostgres:
		cacheStore = cache.NewPGStore(pool)
	case config.BackendFile:
		fs, err := cache.NewFileStore(cfg.CacheDir)
		if err != nil {
			return err
		}
		cacheStore = fs
	}

	pipelines, err := orchestrator.NewPipelineSource(cfg.PipelineFile, logger)
	if err != nil {
		return err
	}

	// RabbitMQ (опционально)
	var notifier orchestrator.Notifier
	var mqConn *mq.Connection
	if cfg.RabbitMQURL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in HTTP-only mode", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				return err
			}
			logger.Debug("topology declared", "topology", mq.TopologyInfo())

			notifier = mq.NewPublisher(mqConn, logger)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		Pipelines: pipelines,
		Runner: runner.New(runner.Config{
			CacheStore: cacheStore,
			Metrics:    metrics,
			Logger:     logger,
		}),
		Store:                    store,
		Notifier:                 notifier,
		WorkspaceRoot:            cfg.WorkspaceRoot,
		KeepWorkspaces:           cfg.KeepWorkspaces,
		Repository:               cfg.Repository,
		AllowForeignRepositories: cfg.AllowForeignRepositories,
		Env:                      cfg.Env,
		MaxConcurrentRuns:        cfg.MaxConcurrentRuns,
		Metrics:                  metrics,
		Logger:                   logger,
	})

	sched := scheduler.New(scheduler.Config{Handler: orch, Logger: logger})
	if err := sched.Load(pipelines.Current()); err != nil {
		return err
	}
	pipelines.OnReload(func(p *domain.Pipeline) {
		if err := sched.Load(p); err != nil {
			logger.Error("failed to reload schedules", "error", err)
		}
	})

	handler := api.NewHandler(api.Config{
		Runs:                     store,
		Orchestrator:             orch,
		Gatherer:                 reg,
		Metrics:                  metrics,
		WebhookSecret:            cfg.WebhookSecret,
		Repository:               cfg.Repository,
		AllowForeignRepositories: cfg.AllowForeignRepositories,
		Logger:                   logger,
	})
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook_secret is not set, POST /api/v1/events accepts unsigned events")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipelines.Watch(gctx)
	})

	g.Go(func() error {
		return sched.Run(gctx)
	})

	if mqConn != nil {
		consumer := mq.NewConsumer(mqConn, mq.ConsumerConfig{
			Queue:    mq.QueueEventsTrigger,
			Handler:  orch.HandleMessage,
			Prefetch: cfg.MaxConcurrentRuns,
			Logger:   logger,
		})
		g.Go(func() error {
			if err := consumer.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn("runs did not finish in time", "error", err)
		}
		return nil
	})

	return g.Wait()
}
