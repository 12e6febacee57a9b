// Command indexer runs the index engine behind a Kafka ingest consumer and
// an admin HTTP API. Flushes and merges run in the background.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/indexer.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/handler"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/segment"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/storage"
)

func main() {
	configPath := flag.String("config", "configs/indexer.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	dir, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	cat, closeCatalog, err := openCatalog(ctx, cfg, dir)
	if err != nil {
		return err
	}
	defer closeCatalog()

	opts := indexer.Options{
		Metrics: m,
		Retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond},
	}
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		opts.Locker = redis.NewLocker(client, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		slog.Info("using redis commit lock", "key", cfg.Redis.LockKey)
	}
	if cfg.Kafka.Enabled && cfg.Kafka.Topics.IndexComplete != "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		opts.Publisher = producer
	}

	engine, err := indexer.NewEngine(ctx, cfg, dir, cat, opts)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer func() {
		slog.Info("flushing index before shutdown")
		if err := engine.Close(); err != nil {
			slog.Error("closing index", "error", err)
		}
	}()
	engine.StartFlushLoop(ctx)
	engine.StartMergeLoop(ctx)

	if cfg.Metrics.Enabled {
		checker := healthChecks(cfg, dir, cat, engine)
		if redisClient != nil {
			checker.Register("redis", health.ErrorCheck(redisClient.Ping))
		}
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/livez":  checker.LiveHandler(),
			"/readyz": checker.ReadyHandler(),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	st := engine.Stats()
	slog.Info("starting indexer service",
		"storage", cfg.Storage.Backend,
		"catalog", cfg.Catalog.Backend,
		"generation", st.Generation,
		"segments", st.Segments,
		"docs", st.NumDocs,
	)

	if cfg.Server.Enabled {
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      handler.New(engine, tokenizer.Standard()).Routes(m, cfg.Server.RequestTimeout),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			slog.Info("admin api listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("admin api server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("admin api shutdown error", "error", err)
			}
		}()
	}

	if !cfg.Kafka.Enabled {
		slog.Info("kafka disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}
	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		consumer.HandleMessage(engine, tokenizer.Standard()),
		kafka.ConsumerOptions{
			Retry:   resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond},
			Observe: m.IngestEvent,
		},
	)
	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := consumer.New(kafkaConsumer).Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	return nil
}

func healthChecks(cfg *config.Config, dir storage.Directory, cat catalog.Catalog, engine *indexer.Engine) *health.Checker {
	checker := health.NewChecker()
	checker.Register("storage", health.ErrorCheck(func(ctx context.Context) error {
		_, err := dir.List(ctx, segment.NamePrefix)
		return err
	}))
	checker.Register("catalog", health.ErrorCheck(func(ctx context.Context) error {
		_, err := cat.Load(ctx)
		return err
	}))
	// Merges falling behind leaves searches fanning out over too many segments.
	checker.Register("segments", func(context.Context) health.ComponentHealth {
		st := engine.Stats()
		if limit := 2 * cfg.Indexer.MaxSegmentsBeforeMerge; st.Segments > limit {
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d segments, merge threshold %d", st.Segments, cfg.Indexer.MaxSegmentsBeforeMerge),
			}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	return checker
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Directory, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryDirectory(), nil
	case "minio":
		return storage.NewMinioDirectory(ctx, storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			Secure:    cfg.Minio.UseSSL,
		})
	default:
		return storage.NewLocalDirectory(cfg.DataDir)
	}
}

func openCatalog(ctx context.Context, cfg *config.Config, dir storage.Directory) (catalog.Catalog, func(), error) {
	if cfg.Catalog.Backend != "postgres" {
		return catalog.NewDirectoryCatalog(dir, 1), func() {}, nil
	}
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cat := catalog.NewPostgresCatalog(db, cfg.Catalog.Index, 1)
	if err := cat.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return cat, func() { db.Close() }, nil
}
