package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/extract"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/engine/bleveidx"
	"github.com/sdi-catalog/csw-indexer/internal/engine/segmented"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/reader"
	"github.com/sdi-catalog/csw-indexer/pkg/config"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
)

var catalogFiles = map[string]string{
	"abc-123.xml": "iso19139.xml",
	"dc-42.xml":   "dublincore.xml",
	"fc-7.xml":    "featurecatalogue.xml",
	"misc-1.xml":  "unknown.xml",
}

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "metadata", "testdata", name))
	require.NoError(t, err)
	return data
}

// catalogDir lays the fixtures out as a filesystem catalog plus one record
// that does not parse.
func catalogDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range catalogFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), fixture(t, src), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xml"), []byte("not xml at all"), 0o644))
	return dir
}

type harness struct {
	ix      *Indexer
	engine  engine.Engine
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, r reader.Reader, eng engine.Engine, opts ...Option) *harness {
	t.Helper()
	set, err := queryable.Default()
	require.NoError(t, err)
	if eng == nil {
		eng = segmented.New(segmented.Config{Dir: t.TempDir()})
	}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pool := extract.NewPool(4, 2)
	builder := document.NewBuilder(set, pool, document.WithMetrics(m))
	opts = append([]Option{WithMetrics(m), WithRetryDelay(time.Millisecond)}, opts...)
	ix := New(r, eng, builder, pool, opts...)
	t.Cleanup(func() { ix.Destroy() })
	return &harness{ix: ix, engine: eng, metrics: m}
}

func (h *harness) ids(t *testing.T, field, term string) []string {
	t.Helper()
	hits, err := h.ix.Search(context.Background(), engine.Query{Field: field, Term: term})
	require.NoError(t, err)
	out := make([]string, len(hits))
	for i, hit := range hits {
		out[i] = hit.ID
	}
	return out
}

func TestNeedsCreation(t *testing.T) {
	dir := catalogDir(t)
	engDir := t.TempDir()
	h := newHarness(t, reader.NewFSReader(dir, reader.ModeTyped, nil), segmented.New(segmented.Config{Dir: engDir}))
	assert.True(t, h.ix.NeedsCreation())

	_, err := h.ix.CreateIndex(context.Background())
	require.NoError(t, err)
	assert.False(t, h.ix.NeedsCreation())

	forced := newHarness(t, reader.NewFSReader(dir, reader.ModeTyped, nil), segmented.New(segmented.Config{Dir: engDir}), WithForceRebuild(true))
	assert.True(t, forced.ix.NeedsCreation())
}

func TestCreateIndex(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), nil, WithRebuildConcurrency(concurrency))
			stats, err := h.ix.CreateIndex(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 5, stats.Scanned)
			assert.Equal(t, 4, stats.Indexed)
			assert.Equal(t, 1, stats.Failed)
			assert.Len(t, stats.RunID, 26)
			assert.Positive(t, stats.Duration)

			n, err := h.engine.Count(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.Equal(t, []string{"abc-123"}, h.ids(t, "Title", "rivers"))
			assert.Equal(t, []string{"misc-1"}, h.ids(t, queryable.FieldID, "misc-1"))

			assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.RecordsIndexedTotal))
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RecordsFailedTotal.WithLabelValues("record")))
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RebuildsTotal.WithLabelValues("success")))
			assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.IndexDocuments))
		})
	}
}

func TestCreateIndexReplacesPreviousContent(t *testing.T) {
	dir := catalogDir(t)
	h := newHarness(t, reader.NewFSReader(dir, reader.ModeTyped, nil), nil)
	ctx := context.Background()
	_, err := h.ix.CreateIndex(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "dc-42.xml")))
	stats, err := h.ix.CreateIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Indexed)
	assert.Empty(t, h.ids(t, queryable.FieldID, "dc-42"))
}

func TestRemoveThenAddLeavesOneDocument(t *testing.T) {
	h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), nil)
	ctx := context.Background()
	_, err := h.ix.CreateIndex(ctx)
	require.NoError(t, err)

	rec, err := reader.Decode(fixture(t, "iso19139.xml"), reader.ModeTyped)
	require.NoError(t, err)
	require.NoError(t, h.ix.RemoveDocument(ctx, "abc-123"))
	assert.Empty(t, h.ids(t, queryable.FieldID, "abc-123"))

	id, err := h.ix.IndexDocument(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", id)
	assert.Equal(t, []string{"abc-123"}, h.ids(t, queryable.FieldID, "abc-123"))

	_, err = h.ix.UpdateDocument(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, h.ix.Commit(ctx))
	assert.Equal(t, []string{"abc-123"}, h.ids(t, queryable.FieldID, "abc-123"))

	n, err := h.engine.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, h.ix.RemoveDocument(ctx, "never-indexed"))
}

func TestIndexByID(t *testing.T) {
	h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), nil)
	ctx := context.Background()
	require.NoError(t, h.ix.IndexByID(ctx, "dc-42"))
	require.NoError(t, h.ix.IndexByID(ctx, "dc-42"))
	assert.Equal(t, []string{"dc-42"}, h.ids(t, "Title", "coastal"))

	err := h.ix.IndexByID(ctx, "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrRecordNotFound))
}

func TestIndexDocumentWithoutIdentifier(t *testing.T) {
	h := newHarness(t, reader.NewFSReader(t.TempDir(), reader.ModeTyped, nil), nil)
	rec, err := reader.Decode(fixture(t, "unknown.xml"), reader.ModeTyped)
	require.NoError(t, err)
	_, err = h.ix.IndexDocument(context.Background(), rec)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownIdentifier))
}

// flakyReader fails the first attempts of selected records.
type flakyReader struct {
	reader.Reader
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func (r *flakyReader) Entry(ctx context.Context, id string) (metadata.Record, error) {
	r.mu.Lock()
	r.calls[id]++
	fail := r.failures[id] > 0
	if fail {
		r.failures[id]--
	}
	r.mu.Unlock()
	if fail {
		return nil, apperrors.New(apperrors.ErrMetadataIO, apperrors.KindRecord, "connection reset")
	}
	return r.Reader.Entry(ctx, id)
}

func TestFetchRetries(t *testing.T) {
	base := reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil)
	r := &flakyReader{Reader: base, failures: map[string]int{"dc-42": 2}, calls: map[string]int{}}
	h := newHarness(t, r, nil, WithFetch(time.Second, 3))

	stats, err := h.ix.CreateIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Indexed)
	assert.Equal(t, 3, r.calls["dc-42"])
	assert.Equal(t, 1, r.calls["broken"], "malformed records are not retried")
}

func TestMissingRecordIsSkipped(t *testing.T) {
	base := reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil)
	r := &listingReader{Reader: base, extra: "ghost"}
	h := newHarness(t, r, nil)
	stats, err := h.ix.CreateIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Scanned)
	assert.Equal(t, 2, stats.Failed)
}

type listingReader struct {
	reader.Reader
	extra string
}

func (r *listingReader) AllIdentifiers(ctx context.Context) ([]string, error) {
	ids, err := r.Reader.AllIdentifiers(ctx)
	return append(ids, r.extra), err
}

// failingEngine fails Recreate a set number of times.
type failingEngine struct {
	engine.Engine
	failures int
}

func (e *failingEngine) Recreate(ctx context.Context) error {
	if e.failures > 0 {
		e.failures--
		return apperrors.New(apperrors.ErrIndexIO, apperrors.KindIndex, "disk full")
	}
	return e.Engine.Recreate(ctx)
}

func TestEngineFailureLeavesIndexerUsable(t *testing.T) {
	eng := &failingEngine{Engine: segmented.New(segmented.Config{Dir: t.TempDir()}), failures: 1}
	h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), eng)
	ctx := context.Background()

	_, err := h.ix.CreateIndex(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrIndexIO))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RebuildsTotal.WithLabelValues("error")))

	stats, err := h.ix.CreateIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Indexed)
}

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	events []RebuildEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, value.(RebuildEvent))
	return nil
}

func TestRebuildAnnouncesCompletion(t *testing.T) {
	pub := &recordingPublisher{}
	changes := 0
	h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), nil,
		WithPublisher(pub),
		WithChangeListener(func(context.Context) { changes++ }),
		WithTracing(true),
	)
	stats, err := h.ix.CreateIndex(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, stats.RunID, pub.keys[0])
	assert.Equal(t, 4, pub.events[0].Indexed)
	assert.Equal(t, 1, pub.events[0].Failed)
	assert.Equal(t, 1, changes)

	require.NoError(t, h.ix.RemoveDocument(context.Background(), "fc-7"))
	assert.Equal(t, 2, changes)
}

// gateReader blocks every Entry call until release is closed.
type gateReader struct {
	reader.Reader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gateReader) Entry(ctx context.Context, id string) (metadata.Record, error) {
	r.once.Do(func() { close(r.entered) })
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.Reader.Entry(ctx, id)
}

func TestTryCreateIndexWhileRebuilding(t *testing.T) {
	r := &gateReader{
		Reader:  reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newHarness(t, r, nil)

	done := make(chan error, 1)
	go func() {
		_, err := h.ix.CreateIndex(context.Background())
		done <- err
	}()
	<-r.entered
	assert.True(t, h.ix.Rebuilding())

	_, err := h.ix.TryCreateIndex(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrRebuildInProgress))

	close(r.release)
	require.NoError(t, <-done)
	assert.False(t, h.ix.Rebuilding())
}

func TestCreateIndexCancelled(t *testing.T) {
	h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.ix.CreateIndex(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDestroyIsIdempotent(t *testing.T) {
	h := newHarness(t, reader.NewFSReader(catalogDir(t), reader.ModeTyped, nil), nil)
	require.NoError(t, h.ix.Destroy())
	require.NoError(t, h.ix.Destroy())

	_, err := h.ix.CreateIndex(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrIndexClosed))
	assert.True(t, apperrors.Is(h.ix.RemoveDocument(context.Background(), "x"), apperrors.ErrIndexClosed))
}

func TestNewEngine(t *testing.T) {
	set, err := queryable.Default()
	require.NoError(t, err)
	dir := t.TempDir()

	seg, err := NewEngine(config.IndexConfig{Engine: "segmented", Location: dir}, set, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &segmented.Engine{}, seg)

	blv, err := NewEngine(config.IndexConfig{Engine: "bleve", Location: dir}, set, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &bleveidx.Engine{}, blv)

	_, err = NewEngine(config.IndexConfig{Engine: "lucene", Location: dir}, set, nil, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfiguration))
}
