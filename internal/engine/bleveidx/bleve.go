// Package bleveidx implements the index engine on a Bleve index. The field
// mapping is generated from the queryable maps so that exact fields are
// keyword analyzed and bounding box corners are numeric.
package bleveidx

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindKeyword
	kindNumeric
)

var bboxFields = []string{queryable.FieldMinX, queryable.FieldMaxX, queryable.FieldMinY, queryable.FieldMaxY}

// Engine is safe for concurrent use. Writes are serialized by the caller.
type Engine struct {
	path   string
	kinds  map[string]fieldKind
	logger *slog.Logger

	mu    sync.RWMutex
	index bleve.Index
}

var _ engine.Engine = (*Engine)(nil)

// New prepares an engine at path for documents built from maps.
func New(path string, maps ...*queryable.Map) *Engine {
	kinds := map[string]fieldKind{
		queryable.FieldID:      kindKeyword,
		queryable.FieldAnyText: kindText,
		queryable.FieldCRS:     kindKeyword,
	}
	for _, f := range bboxFields {
		kinds[f] = kindNumeric
	}
	for _, m := range maps {
		for _, f := range m.Fields() {
			kinds[queryable.SortField(f.Name)] = kindKeyword
			if _, seen := kinds[f.Name]; seen {
				continue
			}
			if f.Type == value.HintText {
				kinds[f.Name] = kindText
			} else {
				kinds[f.Name] = kindKeyword
			}
		}
	}
	return &Engine{
		path:   path,
		kinds:  kinds,
		logger: slog.Default().With("component", "bleve-index"),
	}
}

// buildIndexMapping maps every known field explicitly. Unknown fields fall
// back to the standard analyzer.
func (e *Engine) buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()
	for name, kind := range e.kinds {
		switch kind {
		case kindNumeric:
			fm := bleve.NewNumericFieldMapping()
			fm.Store = true
			docMapping.AddFieldMappingsAt(name, fm)
		case kindKeyword:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = keyword.Name
			fm.Store = true
			docMapping.AddFieldMappingsAt(name, fm)
		default:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = standard.Name
			fm.Store = name != queryable.FieldAnyText
			docMapping.AddFieldMappingsAt(name, fm)
		}
	}
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func ioError(err error, msg string) error {
	return apperrors.Wrap(apperrors.ErrIndexIO, apperrors.KindIndex, err, msg)
}

func (e *Engine) closedError() error {
	return apperrors.New(apperrors.ErrIndexClosed, apperrors.KindIndex, "bleve index at "+e.path)
}

func (e *Engine) Exists() bool {
	_, err := os.Stat(filepath.Join(e.path, "index_meta.json"))
	return err == nil
}

// Open opens the index, creating it when the path holds none.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index != nil {
		return nil
	}
	index, err := bleve.Open(e.path)
	if err == nil {
		e.index = index
		return nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) && !errors.Is(err, bleve.ErrorIndexMetaMissing) {
		return ioError(err, "opening bleve index")
	}
	return e.createLocked()
}

func (e *Engine) createLocked() error {
	index, err := bleve.New(e.path, e.buildIndexMapping())
	if err != nil {
		return ioError(err, "creating bleve index")
	}
	e.index = index
	e.logger.Info("bleve index created", "path", e.path, "mapped_fields", len(e.kinds))
	return nil
}

// Recreate removes any index on disk and opens a fresh one.
func (e *Engine) Recreate(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			e.logger.Error("closing bleve index before recreate", "error", err)
		}
		e.index = nil
	}
	if err := os.RemoveAll(e.path); err != nil {
		return ioError(err, "removing bleve index")
	}
	return e.createLocked()
}

// fields converts doc into the map Bleve indexes. Numeric fields carry
// float64 values; every other field carries strings.
func (e *Engine) fields(doc *document.Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.Names()))
	for _, name := range doc.Names() {
		entries := doc.Entries(name)
		vals := make([]interface{}, 0, len(entries))
		for _, en := range entries {
			if e.kinds[name] == kindNumeric {
				vals = append(vals, en.Number)
				continue
			}
			vals = append(vals, en.Value)
		}
		if len(vals) == 1 {
			out[name] = vals[0]
		} else {
			out[name] = vals
		}
	}
	return out
}

// Add indexes doc, replacing any document with the same identifier.
func (e *Engine) Add(ctx context.Context, doc *document.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return e.closedError()
	}
	if err := e.index.Index(doc.ID, e.fields(doc)); err != nil {
		return ioError(err, "indexing "+doc.ID)
	}
	return nil
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return e.closedError()
	}
	if err := e.index.Delete(id); err != nil {
		return ioError(err, "deleting "+id)
	}
	return nil
}

// Optimize is a commit point only. Bleve persists every write and merges
// segments in the background.
func (e *Engine) Optimize(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return e.closedError()
	}
	return ctx.Err()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil {
		return nil
	}
	err := e.index.Close()
	e.index = nil
	if err != nil {
		return ioError(err, "closing bleve index")
	}
	return nil
}

func (e *Engine) query(q engine.Query) query.Query {
	kind, known := e.kinds[q.Field]
	switch {
	case known && kind == kindKeyword:
		tq := bleve.NewTermQuery(q.Term)
		tq.SetField(q.Field)
		return tq
	case known && kind == kindNumeric:
		f, err := strconv.ParseFloat(q.Term, 64)
		if err != nil {
			return bleve.NewMatchNoneQuery()
		}
		inclusive := true
		nq := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
		nq.SetField(q.Field)
		return nq
	default:
		mq := bleve.NewMatchQuery(q.Term)
		mq.SetField(q.Field)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		return mq
	}
}

// Search runs q and returns the hits in the requested order.
func (e *Engine) Search(ctx context.Context, q engine.Query) ([]engine.Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return nil, e.closedError()
	}
	total, err := e.index.DocCount()
	if err != nil {
		return nil, ioError(err, "counting documents")
	}
	if total == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequestOptions(e.query(q), int(total), 0, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{"_id"})
	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ioError(err, "searching "+q.Field)
	}

	hits := make([]engine.Hit, 0, len(res.Hits))
	for _, m := range res.Hits {
		fields := storedFields(m.Fields)
		hits = append(hits, engine.Hit{ID: m.ID, Fields: fields, Boxes: engine.BoxesOf(fields)})
	}
	return hits, nil
}

// storedFields normalizes Bleve's stored values (string, float64 or a
// slice of either) into strings.
func storedFields(in map[string]interface{}) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, raw := range in {
		switch v := raw.(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := scalar(item); ok {
					out[name] = append(out[name], s)
				}
			}
		default:
			if s, ok := scalar(v); ok {
				out[name] = []string{s}
			}
		}
	}
	return out
}

func scalar(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return value.FormatNumber(t), true
	}
	return "", false
}

func (e *Engine) Count(ctx context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.index == nil {
		return 0, e.closedError()
	}
	n, err := e.index.DocCount()
	if err != nil {
		return 0, ioError(err, "counting documents")
	}
	return int(n), nil
}
