package bleveidx

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

func testDoc(id, title string) *document.Document {
	d := document.New(id)
	d.Add(queryable.FieldID, document.Entry{Value: id, Stored: true})
	d.Add("Title", document.Entry{Value: title, Stored: true, Analyzed: true})
	d.Add("Language", document.Entry{Value: "eng", Stored: true})
	d.Add(queryable.SortField("Title"), document.Entry{Value: title, Stored: true})
	d.Add(queryable.FieldAnyText, document.Entry{Value: title + " eng", Analyzed: true})
	return d
}

func baseline(t *testing.T) *queryable.Map {
	t.Helper()
	set, err := queryable.Default()
	require.NoError(t, err)
	return set.Baseline()
}

func openEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(filepath.Join(t.TempDir(), "bleve"), baseline(t))
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { e.Close() })
	return e
}

func search(t *testing.T, e *Engine, field, term string) []string {
	t.Helper()
	hits, err := e.Search(context.Background(), engine.Query{Field: field, Term: term})
	require.NoError(t, err)
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestMappingKinds(t *testing.T) {
	e := New(t.TempDir(), baseline(t))
	assert.Equal(t, kindKeyword, e.kinds[queryable.FieldID])
	assert.Equal(t, kindText, e.kinds[queryable.FieldAnyText])
	assert.Equal(t, kindText, e.kinds["Title"])
	assert.Equal(t, kindKeyword, e.kinds["Title_sort"])
	assert.Equal(t, kindKeyword, e.kinds["Modified"])
	assert.Equal(t, kindNumeric, e.kinds[queryable.FieldMinX])
}

func TestAddAndSearch(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)
	assert.True(t, e.Exists())
	require.NoError(t, e.Add(ctx, testDoc("a", "Rivers of Europe")))
	require.NoError(t, e.Add(ctx, testDoc("b", "Lakes of Europe")))

	assert.Equal(t, []string{"a", "b"}, search(t, e, "Title", "europe"))
	assert.Equal(t, []string{"a"}, search(t, e, "Title", "rivers europe"))
	assert.Empty(t, search(t, e, "Title", "rivers asia"))
	assert.Equal(t, []string{"a", "b"}, search(t, e, "Language", "eng"))
	assert.Empty(t, search(t, e, "Language", "en"))
	assert.Equal(t, []string{"b"}, search(t, e, queryable.FieldID, "b"))
	assert.Equal(t, []string{"a"}, search(t, e, queryable.FieldAnyText, "rivers"))

	hits, err := e.Search(ctx, engine.Query{Field: queryable.FieldID, Term: "a"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Rivers of Europe", hits[0].First("Title"))
	assert.Equal(t, "Rivers of Europe", hits[0].First("Title_sort"))
	assert.NotContains(t, hits[0].Fields, queryable.FieldAnyText)
}

func TestAddReplacesAndDelete(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)
	require.NoError(t, e.Add(ctx, testDoc("a", "Old name")))
	require.NoError(t, e.Add(ctx, testDoc("a", "New name")))

	n, err := e.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, search(t, e, "Title", "old"))

	require.NoError(t, e.Delete(ctx, "a"))
	require.NoError(t, e.Delete(ctx, "a"))
	n, err = e.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNumericBoxFields(t *testing.T) {
	ctx := context.Background()
	e := openEngine(t)
	d := testDoc("a", "Rivers")
	d.Add(queryable.FieldMinX, document.Entry{Value: "-10.5", Number: -10.5, Numeric: true, Stored: true})
	d.Add(queryable.FieldMaxX, document.Entry{Value: "30", Number: 30, Numeric: true, Stored: true})
	d.Add(queryable.FieldMinY, document.Entry{Value: "35", Number: 35, Numeric: true, Stored: true})
	d.Add(queryable.FieldMaxY, document.Entry{Value: "70.25", Number: 70.25, Numeric: true, Stored: true})
	d.Add(queryable.FieldCRS, document.Entry{Value: "EPSG:4326", Stored: true})
	require.NoError(t, e.Add(ctx, d))

	assert.Equal(t, []string{"a"}, search(t, e, queryable.FieldMinX, "-10.5"))
	assert.Empty(t, search(t, e, queryable.FieldMinX, "-10"))
	assert.Empty(t, search(t, e, queryable.FieldMinX, "west"))

	hits, err := e.Search(ctx, engine.Query{Field: queryable.FieldCRS, Term: "EPSG:4326"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []document.BoundingBox{{MinX: -10.5, MaxX: 30, MinY: 35, MaxY: 70.25, CRS: "EPSG:4326"}}, hits[0].Boxes)
}

func TestReopenAndRecreate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bleve")
	e := New(path, baseline(t))
	assert.False(t, e.Exists())
	require.NoError(t, e.Open(ctx))
	require.NoError(t, e.Add(ctx, testDoc("a", "Alpha")))
	require.NoError(t, e.Optimize(ctx))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	reopened := New(path, baseline(t))
	require.NoError(t, reopened.Open(ctx))
	t.Cleanup(func() { reopened.Close() })
	assert.Equal(t, []string{"a"}, search(t, reopened, queryable.FieldID, "a"))

	require.NoError(t, reopened.Recreate(ctx))
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	e := New(filepath.Join(t.TempDir(), "bleve"))
	assert.ErrorIs(t, e.Add(ctx, testDoc("a", "Alpha")), apperrors.ErrIndexClosed)
	_, err := e.Search(ctx, engine.Query{Field: "Title", Term: "alpha"})
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
	assert.ErrorIs(t, e.Optimize(ctx), apperrors.ErrIndexClosed)
	_, err = e.Count(ctx)
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
}
