// Command searcher queries a catalog index built by the indexer service. With
// -q it runs one query and prints the result as JSON; otherwise it serves the
// search endpoints over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/indexer"
	"github.com/sdi-catalog/csw-indexer/internal/search/cache"
	"github.com/sdi-catalog/csw-indexer/internal/search/executor"
	"github.com/sdi-catalog/csw-indexer/internal/search/handler"
	"github.com/sdi-catalog/csw-indexer/internal/search/parser"
	"github.com/sdi-catalog/csw-indexer/pkg/config"
	"github.com/sdi-catalog/csw-indexer/pkg/health"
	"github.com/sdi-catalog/csw-indexer/pkg/logger"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
	pkgredis "github.com/sdi-catalog/csw-indexer/pkg/redis"
)

type queryFlags struct {
	query  string
	limit  int
	offset int
	sort   string
	desc   bool
	bbox   string
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	var qf queryFlags
	flag.StringVar(&qf.query, "q", "", "run one query and exit")
	flag.IntVar(&qf.limit, "limit", 0, "maximum results (0 uses search.defaultLimit)")
	flag.IntVar(&qf.offset, "offset", 0, "results to skip")
	flag.StringVar(&qf.sort, "sort", "", "queryable to sort by")
	flag.BoolVar(&qf.desc, "desc", false, "sort descending")
	flag.StringVar(&qf.bbox, "bbox", "", "minx,miny,maxx,maxy[,crs] filter")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if qf.query != "" {
		// Keep stdout for the result.
		logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	} else {
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	eng, err := openIndex(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	if qf.query != "" {
		err = queryOnce(ctx, eng, cfg.Search, qf)
	} else {
		err = serve(ctx, eng, cfg, m)
	}
	if err != nil {
		slog.Error("searcher failed", "error", err)
		os.Exit(1)
	}
}

func openIndex(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (engine.Engine, error) {
	var (
		set *queryable.Set
		err error
	)
	if cfg.Catalog.QueryablesFile != "" {
		set, err = queryable.LoadFile(cfg.Catalog.QueryablesFile)
	} else {
		set, err = queryable.Default()
	}
	if err != nil {
		return nil, err
	}
	additional, err := queryable.Additional(cfg.Catalog.AdditionalQueryables)
	if err != nil {
		return nil, err
	}
	eng, err := indexer.NewEngine(cfg.Index, set, additional, m)
	if err != nil {
		return nil, err
	}
	if !eng.Exists() {
		return nil, fmt.Errorf("no %s index at %s", cfg.Index.Engine, cfg.Index.Location)
	}
	if err := eng.Open(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

func queryOnce(ctx context.Context, eng engine.Engine, cfg config.SearchConfig, qf queryFlags) error {
	req := executor.Request{
		Plan:       parser.Parse(qf.query, queryable.FieldAnyText),
		Limit:      qf.limit,
		Offset:     qf.offset,
		SortBy:     qf.sort,
		Descending: qf.desc,
	}
	if req.Limit <= 0 {
		req.Limit = cfg.DefaultLimit
	}
	if qf.bbox != "" {
		box, err := handler.ParseBBox(qf.bbox)
		if err != nil {
			return err
		}
		req.BBox = &box
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	result, err := executor.New(eng).Execute(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func serve(ctx context.Context, eng engine.Engine, cfg *config.Config, m *metrics.Metrics) error {
	var queryCache *cache.QueryCache
	checker := health.NewChecker()
	checker.Register("index", health.FromError(health.StatusDown, func(ctx context.Context) error {
		_, err := eng.Count(ctx)
		return err
	}))
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.FromError(health.StatusDegraded, redisClient.Ping))
		}
	}

	search := handler.New(executor.New(eng), queryCache, m, cfg.Search)
	routes := search.Routes()
	for path, h := range checker.Routes() {
		routes[path] = h
	}
	shutdown := metrics.StartServer(cfg.Metrics.Port, routes)
	slog.Info("search service ready", "port", cfg.Metrics.Port, "engine", cfg.Index.Engine)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	slog.Info("search service stopped")
	return nil
}
