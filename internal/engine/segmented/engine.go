// Package segmented is an inverted index kept in memory and flushed to
// immutable .spdx segment files. Deletes are recorded as tombstones bound to
// segment sequence numbers and purged when segments are merged.
package segmented

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/engine/tokenizer"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
)

const (
	metaFile      = "index.json"
	tombstoneFile = "tombstones.json"

	DefaultSegmentMaxSize = 8 << 20
)

// Config controls where segments live and when the memory index is flushed.
type Config struct {
	Dir            string
	SegmentMaxSize int64
	FlushInterval  time.Duration
	// MaxSegments merges all segments once a flush leaves more than this
	// many. Zero leaves merging to Optimize.
	MaxSegments int
}

type indexMeta struct {
	Format    uint32    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}

// Engine implements engine.Engine on segment files in one directory.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	open    bool
	mem     *MemoryIndex
	writer  *Writer
	readers []*Reader
	// tombstones maps a document ID to the highest segment sequence number
	// whose copy of the document is dead.
	tombstones map[string]uint64
	seq        uint64
}

var _ engine.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an unopened Engine. Zero Config fields take the defaults.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.SegmentMaxSize <= 0 {
		cfg.SegmentMaxSize = DefaultSegmentMaxSize
	}
	e := &Engine{
		cfg:        cfg,
		logger:     slog.Default().With("component", "segmented-index"),
		mem:        NewMemoryIndex(),
		writer:     NewWriter(cfg.Dir),
		tombstones: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func ioError(err error, msg string) error {
	return apperrors.Wrap(apperrors.ErrIndexIO, apperrors.KindIndex, err, msg)
}

func (e *Engine) closedError() error {
	return apperrors.New(apperrors.ErrIndexClosed, apperrors.KindIndex, "segmented index at "+e.cfg.Dir)
}

func (e *Engine) Exists() bool {
	_, err := os.Stat(filepath.Join(e.cfg.Dir, metaFile))
	return err == nil
}

// Open creates the index directory on first use and loads its segments.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openLocked()
}

func (e *Engine) openLocked() error {
	if e.open {
		return nil
	}
	if err := os.MkdirAll(e.cfg.Dir, 0755); err != nil {
		return ioError(err, "creating index data directory")
	}
	if !e.Exists() {
		data, _ := json.Marshal(indexMeta{Format: FormatVersion, CreatedAt: time.Now().UTC()})
		if err := writeFileAtomic(filepath.Join(e.cfg.Dir, metaFile), data); err != nil {
			return ioError(err, "writing index metadata")
		}
	}
	if err := e.loadExistingSegments(); err != nil {
		return ioError(err, "loading existing segments")
	}
	if err := e.loadTombstones(); err != nil {
		return ioError(err, "loading tombstones")
	}
	e.open = true
	return nil
}

// Recreate discards every segment and tombstone, then opens an empty index.
func (e *Engine) Recreate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeReadersLocked()
	e.open = false
	e.mem.Reset()
	e.tombstones = make(map[string]uint64)
	e.seq = 0

	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil && !os.IsNotExist(err) {
		return ioError(err, "reading data directory")
	}
	for _, entry := range entries {
		name := entry.Name()
		if isSegmentFile(name) || strings.HasSuffix(name, ".tmp") || name == tombstoneFile || name == metaFile {
			if err := os.Remove(filepath.Join(e.cfg.Dir, name)); err != nil {
				return ioError(err, "removing "+name)
			}
		}
	}
	e.logger.Info("index recreated", "dir", e.cfg.Dir)
	return e.openLocked()
}

// Add indexes doc and hides any copy of it in existing segments.
func (e *Engine) Add(ctx context.Context, doc *document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return e.closedError()
	}

	e.mem.AddDocument(doc)
	e.tombstoneLocked(doc.ID)
	e.logger.Debug("document indexed in memory",
		"doc_id", doc.ID,
		"mem_size", e.mem.Size(),
	)
	if e.mem.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.mem.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.flushLocked(); err != nil {
			return err
		}
		if e.cfg.MaxSegments > 0 && len(e.readers) > e.cfg.MaxSegments {
			return e.mergeLocked(ctx)
		}
	}
	return nil
}

// Delete removes id. Deleting an absent document is not an error.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return e.closedError()
	}
	e.mem.Remove(id)
	e.tombstoneLocked(id)
	return nil
}

// tombstoneLocked marks every segment copy of id as dead.
func (e *Engine) tombstoneLocked(id string) {
	for _, r := range e.readers {
		if _, ok := r.Doc(id); ok && e.liveIn(r, id) {
			e.tombstones[id] = e.seq
			return
		}
	}
}

func (e *Engine) liveIn(r *Reader, id string) bool {
	return r.Seq() > e.tombstones[id]
}

// Flush writes the memory index to a new segment.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return e.closedError()
	}
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	entries, docs := e.mem.Snapshot()
	if len(docs) == 0 {
		return e.persistTombstones()
	}
	seq := e.seq + 1
	segmentName, err := e.writer.Write(seq, entries, docs)
	if err != nil {
		e.countFlush("error")
		return ioError(err, "writing segment")
	}
	reader, err := OpenReader(filepath.Join(e.cfg.Dir, segmentName))
	if err != nil {
		e.countFlush("error")
		return ioError(err, "opening new segment for reading")
	}
	e.readers = append(e.readers, reader)
	e.seq = seq
	e.mem.Reset()
	e.countFlush("success")
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", len(e.readers),
	)
	return e.persistTombstones()
}

func (e *Engine) countFlush(status string) {
	if e.metrics != nil {
		e.metrics.IndexFlushesTotal.WithLabelValues(status).Inc()
	}
}

// Optimize flushes and merges every segment into one, dropping deleted
// documents and clearing the tombstones.
func (e *Engine) Optimize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return e.closedError()
	}
	if err := e.flushLocked(); err != nil {
		return err
	}
	return e.mergeLocked(ctx)
}

func (e *Engine) mergeLocked(ctx context.Context) error {
	if len(e.readers) <= 1 && len(e.tombstones) == 0 {
		return nil
	}

	merged := make(map[string]PostingList)
	var docs []StoredDoc
	for _, r := range e.readers {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.Entries(func(te TermEntry) error {
			for _, p := range te.Postings {
				if e.liveIn(r, p.DocID) {
					merged[te.Key] = append(merged[te.Key], p)
				}
			}
			return nil
		})
		if err != nil {
			return ioError(err, "reading segment "+r.Name())
		}
		for _, id := range r.IDs() {
			if e.liveIn(r, id) {
				d, _ := r.Doc(id)
				docs = append(docs, d)
			}
		}
	}

	old := e.readers
	e.readers = nil
	if len(docs) > 0 {
		entries := make([]TermEntry, 0, len(merged))
		for key, postings := range merged {
			sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
			entries = append(entries, TermEntry{Key: key, Postings: postings})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

		seq := e.seq + 1
		name, err := e.writer.Write(seq, entries, docs)
		if err != nil {
			e.readers = old
			return ioError(err, "writing merged segment")
		}
		reader, err := OpenReader(filepath.Join(e.cfg.Dir, name))
		if err != nil {
			e.readers = old
			return ioError(err, "opening merged segment")
		}
		e.readers = []*Reader{reader}
		e.seq = seq
	}

	for _, r := range old {
		r.Close()
		if err := os.Remove(r.filePath); err != nil {
			e.logger.Error("removing merged segment", "segment", r.Name(), "error", err)
		}
	}
	e.tombstones = make(map[string]uint64)
	e.logger.Info("segments merged",
		"merged_segments", len(old),
		"docs", len(docs),
	)
	return e.persistTombstones()
}

// Search returns the live documents matching q. Analyzed fields match when
// every token of the term is present; the whole term also matches exact
// fields.
func (e *Engine) Search(ctx context.Context, q engine.Query) ([]engine.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.open {
		return nil, e.closedError()
	}

	matched, err := e.docsFor(postingKey(q.Field, q.Term))
	if err != nil {
		return nil, err
	}
	if terms := tokenizer.Terms(q.Term); len(terms) > 0 {
		var analyzed map[string]bool
		for _, term := range terms {
			ids, err := e.docsFor(postingKey(q.Field, term))
			if err != nil {
				return nil, err
			}
			if analyzed == nil {
				analyzed = ids
				continue
			}
			for id := range analyzed {
				if !ids[id] {
					delete(analyzed, id)
				}
			}
		}
		for id := range analyzed {
			matched[id] = true
		}
	}

	hits := make([]engine.Hit, 0, len(matched))
	for id := range matched {
		stored, ok := e.storedLocked(id)
		if !ok {
			continue
		}
		hits = append(hits, engine.Hit{ID: id, Fields: stored.Fields, Boxes: engine.BoxesOf(stored.Fields)})
	}
	engine.SortHits(hits)
	return hits, nil
}

// docsFor collects the live documents with a posting under key.
func (e *Engine) docsFor(key string) (map[string]bool, error) {
	ids := make(map[string]bool)
	for _, p := range e.mem.Search(key) {
		ids[p.DocID] = true
	}
	for _, r := range e.readers {
		postings, err := r.Search(key)
		if err != nil {
			return nil, ioError(err, "searching segment "+r.Name())
		}
		for _, p := range postings {
			if e.liveIn(r, p.DocID) {
				ids[p.DocID] = true
			}
		}
	}
	return ids, nil
}

func (e *Engine) storedLocked(id string) (StoredDoc, bool) {
	if d, ok := e.mem.Doc(id); ok {
		return d, true
	}
	for i := len(e.readers) - 1; i >= 0; i-- {
		r := e.readers[i]
		if d, ok := r.Doc(id); ok && e.liveIn(r, id) {
			return d, true
		}
	}
	return StoredDoc{}, false
}

// Count returns the number of live documents.
func (e *Engine) Count(ctx context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.open {
		return 0, e.closedError()
	}
	ids := make(map[string]bool)
	for _, id := range e.mem.IDs() {
		ids[id] = true
	}
	for _, r := range e.readers {
		for _, id := range r.IDs() {
			if e.liveIn(r, id) {
				ids[id] = true
			}
		}
	}
	return len(ids), nil
}

// StartFlushLoop flushes buffered documents every FlushInterval until ctx
// ends.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	if e.cfg.FlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if e.mem.DocCount() == 0 {
					continue
				}
				if err := e.Flush(); err != nil && !apperrors.Is(err, apperrors.ErrIndexClosed) {
					e.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

// Close flushes pending documents and releases the segment files. Closing a
// closed engine is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return nil
	}
	err := e.flushLocked()
	if err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.closeReadersLocked()
	e.mem.Reset()
	e.open = false
	return err
}

func (e *Engine) closeReadersLocked() {
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
}

func (e *Engine) loadExistingSegments() error {
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch name := entry.Name(); {
		case isSegmentFile(name):
			segFiles = append(segFiles, name)
		case strings.HasSuffix(name, ".tmp"):
			os.Remove(filepath.Join(e.cfg.Dir, name))
		}
	}
	sort.Strings(segFiles)

	e.readers = nil
	for _, name := range segFiles {
		reader, err := OpenReader(filepath.Join(e.cfg.Dir, name))
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		e.readers = append(e.readers, reader)
		if reader.Seq() > e.seq {
			e.seq = reader.Seq()
		}
		e.logger.Debug("loaded existing segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	e.logger.Info("segment recovery complete", "segments_loaded", len(e.readers))
	return nil
}

func (e *Engine) loadTombstones() error {
	data, err := os.ReadFile(filepath.Join(e.cfg.Dir, tombstoneFile))
	if os.IsNotExist(err) {
		e.tombstones = make(map[string]uint64)
		return nil
	}
	if err != nil {
		return err
	}
	tombstones := make(map[string]uint64)
	if err := json.Unmarshal(data, &tombstones); err != nil {
		return fmt.Errorf("parsing %s: %w", tombstoneFile, err)
	}
	e.tombstones = tombstones
	return nil
}

func (e *Engine) persistTombstones() error {
	data, err := json.Marshal(e.tombstones)
	if err != nil {
		return ioError(err, "encoding tombstones")
	}
	if err := writeFileAtomic(filepath.Join(e.cfg.Dir, tombstoneFile), data); err != nil {
		return ioError(err, "writing tombstones")
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
