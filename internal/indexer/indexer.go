// Package indexer owns the catalog index: it rebuilds it from the metadata
// reader, applies incremental changes and releases every resource on
// Destroy.
package indexer

import (
	"context"
	"crypto/rand"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/extract"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/reader"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/logger"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
	"github.com/sdi-catalog/csw-indexer/pkg/resilience"
	"github.com/sdi-catalog/csw-indexer/pkg/tracing"
)

// Stats summarises one full rebuild.
type Stats struct {
	RunID    string
	Scanned  int
	Indexed  int
	Failed   int
	Duration time.Duration
}

// RebuildEvent is published once a rebuild completes.
type RebuildEvent struct {
	RunID       string    `json:"run_id"`
	Scanned     int       `json:"scanned"`
	Indexed     int       `json:"indexed"`
	Failed      int       `json:"failed"`
	DurationMs  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher delivers rebuild notifications. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithForceRebuild makes NeedsCreation report true even when an index exists.
func WithForceRebuild(force bool) Option {
	return func(ix *Indexer) { ix.forceRebuild = force }
}

// WithRebuildConcurrency sets how many records are fetched and built at
// once during a rebuild. The default of 1 fetches serially.
func WithRebuildConcurrency(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.concurrency = n
		}
	}
}

// WithFetch tunes reader access: the per-attempt timeout and the number of
// attempts.
func WithFetch(timeout time.Duration, attempts int) Option {
	return func(ix *Indexer) {
		ix.fetchTimeout = timeout
		ix.retry.MaxAttempts = attempts
	}
}

// WithRetryDelay sets the first backoff between record fetch attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(ix *Indexer) { ix.retry.InitialDelay = d }
}

// WithPublisher announces index changes through p.
func WithPublisher(p Publisher) Option {
	return func(ix *Indexer) { ix.publisher = p }
}

// WithChangeListener registers fn to run after every successful change to
// the index, such as invalidating a search cache.
func WithChangeListener(fn func(ctx context.Context)) Option {
	return func(ix *Indexer) { ix.onChange = fn }
}

// WithTracing logs a span tree for every rebuild.
func WithTracing(enabled bool) Option {
	return func(ix *Indexer) { ix.tracing = enabled }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// Indexer coordinates the reader, the document builder and the engine.
// Rebuilds are serialized and every engine write goes through one writer
// lock.
type Indexer struct {
	reader  reader.Reader
	engine  engine.Engine
	builder *document.Builder
	pool    *extract.Pool

	forceRebuild bool
	concurrency  int
	fetchTimeout time.Duration
	retry        resilience.RetryConfig
	breaker      *resilience.CircuitBreaker
	publisher    Publisher
	onChange     func(ctx context.Context)
	tracing      bool
	metrics      *metrics.Metrics
	logger       *slog.Logger

	rebuildMu  sync.Mutex
	rebuilding atomic.Bool
	writeMu    sync.Mutex
	entropy    io.Reader

	destroyOnce sync.Once
	destroyed   atomic.Bool
}

// New assembles an Indexer. It takes ownership of pool and eng: both are
// released by Destroy.
func New(r reader.Reader, eng engine.Engine, builder *document.Builder, pool *extract.Pool, opts ...Option) *Indexer {
	ix := &Indexer{
		reader:      r,
		engine:      eng,
		builder:     builder,
		pool:        pool,
		concurrency: 1,
		retry: resilience.RetryConfig{
			Retryable: Transient,
		},
		logger:  slog.Default().With("component", "indexer"),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.breaker = resilience.NewCircuitBreaker("metadata-reader", resilience.CircuitBreakerConfig{
		IsFailure: Transient,
		OnStateChange: func(name string, to resilience.State) {
			if ix.metrics != nil {
				ix.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return ix
}

// Transient reports whether a reader failure may clear up on its own. It
// separates store trouble from records that are missing or malformed.
func Transient(err error) bool {
	var syntaxErr *xml.SyntaxError
	switch {
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, apperrors.ErrRecordNotFound),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrUnknownIdentifier):
		return false
	}
	return true
}

// NeedsCreation reports whether a full rebuild is due.
func (ix *Indexer) NeedsCreation() bool {
	return ix.forceRebuild || !ix.engine.Exists()
}

// Rebuilding reports whether a rebuild is running.
func (ix *Indexer) Rebuilding() bool { return ix.rebuilding.Load() }

func (ix *Indexer) checkAlive() error {
	if ix.destroyed.Load() {
		return apperrors.New(apperrors.ErrIndexClosed, apperrors.KindIndex, "indexer destroyed")
	}
	return nil
}

// CreateIndex rebuilds the index from every record the reader knows.
// Concurrent calls wait for each other. Record failures are logged, counted
// and skipped; enumeration and engine failures abort the run.
func (ix *Indexer) CreateIndex(ctx context.Context) (Stats, error) {
	ix.rebuildMu.Lock()
	defer ix.rebuildMu.Unlock()
	return ix.createIndexLocked(ctx)
}

// TryCreateIndex rebuilds unless a rebuild is already running, in which case
// it returns ErrRebuildInProgress at once.
func (ix *Indexer) TryCreateIndex(ctx context.Context) (Stats, error) {
	if !ix.rebuildMu.TryLock() {
		return Stats{}, apperrors.New(apperrors.ErrRebuildInProgress, apperrors.KindIndex, "rebuild requested")
	}
	defer ix.rebuildMu.Unlock()
	return ix.createIndexLocked(ctx)
}

func (ix *Indexer) createIndexLocked(ctx context.Context) (Stats, error) {
	if err := ix.checkAlive(); err != nil {
		return Stats{}, err
	}
	ix.rebuilding.Store(true)
	defer ix.rebuilding.Store(false)

	start := time.Now()
	runID := ulid.MustNew(ulid.Timestamp(start), ix.entropy).String()
	ctx = logger.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, "rebuild", runID)
	log := ix.logger.With("run_id", runID)
	log.Info("index rebuild started", "concurrency", ix.concurrency)

	stats, err := ix.rebuild(ctx, log)
	stats.RunID = runID
	stats.Duration = time.Since(start)

	span.SetAttr("scanned", stats.Scanned)
	span.SetAttr("indexed", stats.Indexed)
	span.SetAttr("failed", stats.Failed)
	span.End()
	if ix.tracing {
		span.Log(logger.FromContext(ctx))
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	if ix.metrics != nil {
		ix.metrics.RebuildsTotal.WithLabelValues(status).Inc()
		ix.metrics.RebuildDuration.Observe(stats.Duration.Seconds())
	}
	if err != nil {
		log.Error("index rebuild aborted",
			"scanned", stats.Scanned,
			"indexed", stats.Indexed,
			"failed", stats.Failed,
			"error", err,
		)
		return stats, err
	}

	log.Info("index rebuild completed",
		"scanned", stats.Scanned,
		"indexed", stats.Indexed,
		"failed", stats.Failed,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	ix.changed(ctx)
	ix.announce(ctx, stats, log)
	return stats, nil
}

func (ix *Indexer) rebuild(ctx context.Context, log *slog.Logger) (Stats, error) {
	var stats Stats

	ix.writeMu.Lock()
	err := ix.engine.Recreate(ctx)
	ix.writeMu.Unlock()
	if err != nil {
		return stats, err
	}

	var scanned, indexed, failed atomic.Int64
	idxCtx, idxSpan := tracing.StartChildSpan(ctx, "index")
	g, gctx := errgroup.WithContext(idxCtx)
	g.SetLimit(ix.concurrency)
	walkErr := ix.eachIdentifier(gctx, func(id string) {
		scanned.Add(1)
		g.Go(func() error {
			err := ix.indexRecord(gctx, id)
			if err == nil {
				indexed.Add(1)
				ix.metrics.RecordIndexed()
				return nil
			}
			if fatal(err) {
				return err
			}
			failed.Add(1)
			ix.metrics.RecordFailed(apperrors.KindOf(err).String())
			log.Warn("record skipped", "record_id", id, "error", err)
			return nil
		})
	})
	err = g.Wait()
	idxSpan.SetAttr("records", scanned.Load())
	idxSpan.End()

	stats.Scanned = int(scanned.Load())
	stats.Indexed = int(indexed.Load())
	stats.Failed = int(failed.Load())
	if err != nil {
		return stats, err
	}
	if walkErr != nil {
		return stats, walkErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	optCtx, optSpan := tracing.StartChildSpan(ctx, "optimize")
	defer optSpan.End()
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.engine.Optimize(optCtx); err != nil {
		return stats, err
	}
	ix.observeSize(optCtx)
	return stats, nil
}

// fatal reports whether err aborts a rebuild rather than skipping a record.
// Reader failures never do.
func fatal(err error) bool {
	if apperrors.Is(err, apperrors.ErrMetadataIO) {
		return false
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, extract.ErrPoolClosed) ||
		apperrors.KindOf(err) == apperrors.KindIndex
}

// eachIdentifier feeds fn every identifier, streaming when the reader can.
func (ix *Indexer) eachIdentifier(ctx context.Context, fn func(id string)) error {
	_, span := tracing.StartChildSpan(ctx, "enumerate")
	defer span.End()

	if s, ok := ix.reader.(reader.Streaming); ok {
		it, err := s.Identifiers(ctx)
		if err != nil {
			return err
		}
		defer it.Close()
		for it.Next() {
			if ctx.Err() != nil {
				break
			}
			fn(it.Identifier())
		}
		return it.Err()
	}

	ids, err := ix.reader.AllIdentifiers(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		fn(id)
	}
	return nil
}

// fetch reads one record through the timeout, retry and breaker wrappers.
func (ix *Indexer) fetch(ctx context.Context, id string) (metadata.Record, error) {
	var rec metadata.Record
	err := resilience.Retry(ctx, "fetch "+id, ix.retry, func(ctx context.Context) error {
		return ix.breaker.Execute(ctx, func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, ix.fetchTimeout, "fetch "+id, func(ctx context.Context) error {
				r, err := ix.reader.Entry(ctx, id)
				rec = r
				return err
			})
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || !isApp(err) {
			return nil, apperrors.Wrap(apperrors.ErrMetadataIO, apperrors.KindRecord, err, "fetching "+id)
		}
		return nil, err
	}
	return rec, nil
}

func isApp(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr)
}

func (ix *Indexer) indexRecord(ctx context.Context, id string) error {
	rec, err := ix.fetch(ctx, id)
	if err != nil {
		return err
	}
	doc, err := ix.builder.Build(ctx, rec, id)
	if err != nil {
		return err
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	return ix.engine.Add(ctx, doc)
}

// open makes sure the engine is open, so a failed rebuild or a fresh start
// does not leave incremental calls without an index.
func (ix *Indexer) open(ctx context.Context) error {
	if err := ix.checkAlive(); err != nil {
		return err
	}
	return ix.engine.Open(ctx)
}

// IndexDocument builds rec and writes it. Nothing is committed.
func (ix *Indexer) IndexDocument(ctx context.Context, rec metadata.Record) (string, error) {
	return ix.write(ctx, rec, false)
}

// UpdateDocument replaces the indexed copy of rec: remove, then add.
func (ix *Indexer) UpdateDocument(ctx context.Context, rec metadata.Record) (string, error) {
	return ix.write(ctx, rec, true)
}

func (ix *Indexer) write(ctx context.Context, rec metadata.Record, remove bool) (string, error) {
	if err := ix.open(ctx); err != nil {
		return "", err
	}
	doc, err := ix.builder.Build(ctx, rec, "")
	if err != nil {
		return "", err
	}
	return doc.ID, ix.put(ctx, doc, remove)
}

// IndexByID fetches a record from the reader and replaces its document.
func (ix *Indexer) IndexByID(ctx context.Context, id string) error {
	if err := ix.open(ctx); err != nil {
		return err
	}
	rec, err := ix.fetch(ctx, id)
	if err != nil {
		return err
	}
	doc, err := ix.builder.Build(ctx, rec, id)
	if err != nil {
		return err
	}
	return ix.put(ctx, doc, true)
}

func (ix *Indexer) put(ctx context.Context, doc *document.Document, remove bool) error {
	ix.writeMu.Lock()
	var err error
	if remove {
		err = ix.engine.Delete(ctx, doc.ID)
	}
	if err == nil {
		err = ix.engine.Add(ctx, doc)
	}
	ix.writeMu.Unlock()
	if err != nil {
		return err
	}
	ix.metrics.RecordIndexed()
	ix.logger.Debug("document indexed", "record_id", doc.ID, "standard", doc.Standard.String())
	ix.changed(ctx)
	return nil
}

// RemoveDocument deletes the document of id. Removing an unknown id is not
// an error.
func (ix *Indexer) RemoveDocument(ctx context.Context, id string) error {
	if err := ix.open(ctx); err != nil {
		return err
	}
	ix.writeMu.Lock()
	err := ix.engine.Delete(ctx, id)
	ix.writeMu.Unlock()
	if err != nil {
		return err
	}
	ix.logger.Debug("document removed", "record_id", id)
	ix.changed(ctx)
	return nil
}

// Commit makes incremental writes durable.
func (ix *Indexer) Commit(ctx context.Context) error {
	if err := ix.open(ctx); err != nil {
		return err
	}
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.engine.Optimize(ctx); err != nil {
		return err
	}
	ix.observeSize(ctx)
	return nil
}

// Search runs one term query against the index.
func (ix *Indexer) Search(ctx context.Context, q engine.Query) ([]engine.Hit, error) {
	if err := ix.open(ctx); err != nil {
		return nil, err
	}
	return ix.engine.Search(ctx, q)
}

// Ping reports whether the index is ready to serve.
func (ix *Indexer) Ping(ctx context.Context) error {
	if err := ix.open(ctx); err != nil {
		return err
	}
	_, err := ix.engine.Count(ctx)
	return err
}

func (ix *Indexer) observeSize(ctx context.Context) {
	if ix.metrics == nil {
		return
	}
	if n, err := ix.engine.Count(ctx); err == nil {
		ix.metrics.IndexDocuments.Set(float64(n))
	}
}

func (ix *Indexer) changed(ctx context.Context) {
	if ix.onChange != nil {
		ix.onChange(ctx)
	}
}

func (ix *Indexer) announce(ctx context.Context, stats Stats, log *slog.Logger) {
	if ix.publisher == nil {
		return
	}
	ev := RebuildEvent{
		RunID:       stats.RunID,
		Scanned:     stats.Scanned,
		Indexed:     stats.Indexed,
		Failed:      stats.Failed,
		DurationMs:  stats.Duration.Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
	if err := ix.publisher.Publish(ctx, stats.RunID, ev); err != nil {
		log.Error("failed to publish rebuild completion", "error", err)
	}
}

// Destroy releases the pool and the engine. Later calls do nothing and
// return nil.
func (ix *Indexer) Destroy() error {
	var err error
	ix.destroyOnce.Do(func() {
		ix.destroyed.Store(true)
		ix.pool.Close()
		ix.writeMu.Lock()
		defer ix.writeMu.Unlock()
		err = ix.engine.Close()
		ix.logger.Info("indexer destroyed")
	})
	return err
}
