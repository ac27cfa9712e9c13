package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/extract"
	"github.com/sdi-catalog/csw-indexer/internal/engine/segmented"
	"github.com/sdi-catalog/csw-indexer/internal/indexer"
	"github.com/sdi-catalog/csw-indexer/internal/indexer/consumer"
	"github.com/sdi-catalog/csw-indexer/internal/search/cache"
	"github.com/sdi-catalog/csw-indexer/internal/search/executor"
	"github.com/sdi-catalog/csw-indexer/internal/search/handler"
	"github.com/sdi-catalog/csw-indexer/pkg/config"
	"github.com/sdi-catalog/csw-indexer/pkg/health"
	"github.com/sdi-catalog/csw-indexer/pkg/kafka"
	"github.com/sdi-catalog/csw-indexer/pkg/logger"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
	pkgredis "github.com/sdi-catalog/csw-indexer/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuild := flag.Bool("rebuild", false, "force a full rebuild at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *rebuild {
		cfg.Catalog.ForceRebuild = true
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting indexer service",
		"reader", cfg.Catalog.Reader,
		"engine", cfg.Index.Engine,
		"location", cfg.Index.Location,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	source, err := openReader(ctx, cfg.Catalog, cfg.Postgres, cfg.SQLite)
	if err != nil {
		return fmt.Errorf("opening metadata reader: %w", err)
	}
	defer source.close()

	set, additional, err := loadQueryables(cfg.Catalog, source.reader)
	if err != nil {
		return fmt.Errorf("loading queryables: %w", err)
	}

	eng, err := indexer.NewEngine(cfg.Index, set, additional, m)
	if err != nil {
		return err
	}
	pool := extract.NewPool(cfg.Catalog.WorkerPoolSize, cfg.Catalog.QueueBound,
		extract.WithDepthObserver(m.QueueDepth))
	builder := document.NewBuilder(set, pool,
		document.WithAdditional(additional),
		document.WithDefaultCRS(cfg.Catalog.DefaultCRS),
		document.WithMetrics(m),
	)

	var (
		queryCache  *cache.QueryCache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	opts := []indexer.Option{
		indexer.WithForceRebuild(cfg.Catalog.ForceRebuild),
		indexer.WithRebuildConcurrency(cfg.Catalog.RebuildConcurrency),
		indexer.WithFetch(cfg.Catalog.FetchTimeout, cfg.Catalog.FetchAttempts),
		indexer.WithTracing(cfg.Tracing.Enabled),
		indexer.WithMetrics(m),
	}
	if queryCache != nil {
		opts = append(opts, indexer.WithChangeListener(func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := queryCache.Invalidate(ctx); err != nil {
				slog.Warn("search cache invalidation failed", "error", err)
			}
		}))
	}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RebuildComplete)
		defer producer.Close()
		opts = append(opts, indexer.WithPublisher(producer))
	}

	ix := indexer.New(source.reader, eng, builder, pool, opts...)
	defer func() {
		if err := ix.Destroy(); err != nil {
			slog.Error("releasing index failed", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("index", health.FromError(health.StatusDown, ix.Ping))
	checker.Register("metadata_reader", health.FromError(health.StatusDown, source.ping))
	if cfg.Kafka.Enabled {
		brokers := cfg.Kafka.Brokers
		checker.Register("kafka", health.FromError(health.StatusDegraded, func(ctx context.Context) error {
			return kafka.Ping(ctx, brokers)
		}))
	}
	if queryCache != nil {
		checker.Register("redis", health.FromError(health.StatusDegraded, redisClient.Ping))
	}

	search := handler.New(executor.New(ix), queryCache, m, cfg.Search)
	if cfg.Metrics.Enabled {
		routes := search.Routes()
		for path, h := range checker.Routes() {
			routes[path] = h
		}
		shutdown := metrics.StartServer(cfg.Metrics.Port, routes)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("http server shutdown failed", "error", err)
			}
		}()
	}

	if ix.NeedsCreation() {
		stats, err := ix.CreateIndex(ctx)
		if err != nil {
			return fmt.Errorf("initial index rebuild: %w", err)
		}
		slog.Info("initial index ready", "run_id", stats.RunID, "indexed", stats.Indexed, "failed", stats.Failed)
	}

	if seg, ok := eng.(*segmented.Engine); ok {
		seg.StartFlushLoop(ctx)
	}

	if !cfg.Kafka.Enabled {
		slog.Info("indexer service ready, kafka disabled")
		<-ctx.Done()
		return nil
	}

	applier := consumer.NewApplier(ix, source.mode, m)
	indexConsumer := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecordChanges, applier.Handler()))
	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.RecordChanges,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("indexer service stopped")
	return nil
}
