package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/search/parser"
)

type fakeSearcher struct {
	docs     map[string]engine.Hit
	postings map[engine.Query][]string
	queries  []engine.Query
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, q engine.Query) ([]engine.Hit, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []engine.Hit
	for _, id := range f.postings[q] {
		out = append(out, f.docs[id])
	}
	return out, nil
}

func hit(id, title string, box *document.BoundingBox) engine.Hit {
	h := engine.Hit{ID: id, Fields: map[string][]string{
		"Identifier": {id},
		"Title":      {title},
		"Title_sort": {title},
	}}
	if title == "" {
		h.Fields["Title_sort"] = []string{"null"}
	}
	if box != nil {
		h.Boxes = []document.BoundingBox{*box}
	}
	return h
}

func catalog() *fakeSearcher {
	return &fakeSearcher{
		docs: map[string]engine.Hit{
			"a": hit("a", "Rivers of Europe", &document.BoundingBox{MinX: -10, MaxX: 10, MinY: -5, MaxY: 5, CRS: "EPSG:4326"}),
			"b": hit("b", "Lakes of Europe", &document.BoundingBox{MinX: 20, MaxX: 30, MinY: 40, MaxY: 50, CRS: "EPSG:4326"}),
			"c": hit("c", "", nil),
		},
		postings: map[engine.Query][]string{
			{Field: "AnyText", Term: "europe"}: {"a", "b"},
			{Field: "AnyText", Term: "rivers"}: {"a"},
			{Field: "AnyText", Term: "lakes"}:  {"b"},
			{Field: "Type", Term: "dataset"}:   {"a", "b", "c"},
		},
	}
}

func ids(res *SearchResult) []string {
	out := make([]string, len(res.Results))
	for i, r := range res.Results {
		out[i] = r.ID
	}
	return out
}

func run(t *testing.T, s Searcher, query string, mod func(*Request)) *SearchResult {
	t.Helper()
	req := Request{Plan: parser.Parse(query, "AnyText")}
	if mod != nil {
		mod(&req)
	}
	res, err := New(s).Execute(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestExecuteBooleanOperators(t *testing.T) {
	s := catalog()
	assert.Equal(t, []string{"a"}, ids(run(t, s, "europe rivers", nil)))
	assert.Equal(t, []string{"a", "b"}, ids(run(t, s, "rivers OR lakes", nil)))
	assert.Equal(t, []string{"b"}, ids(run(t, s, "europe NOT rivers", nil)))
	assert.Empty(t, ids(run(t, s, "europe missing", nil)))

	res := run(t, s, "europe rivers", nil)
	assert.Equal(t, 1, res.TotalHits)
	assert.Equal(t, map[string]int{"AnyText:europe": 2, "AnyText:rivers": 1}, res.TermStats)
}

func TestExecuteEmptyPlanSkipsEngine(t *testing.T) {
	s := catalog()
	res := run(t, s, "NOT", nil)
	assert.Empty(t, res.Results)
	assert.Empty(t, s.queries)
}

func TestExecuteBBoxFilter(t *testing.T) {
	s := catalog()
	res := run(t, s, "Type:dataset", func(r *Request) {
		r.BBox = &document.BoundingBox{MinX: 0, MaxX: 25, MinY: 0, MaxY: 45}
	})
	assert.Equal(t, []string{"a", "b"}, ids(res))

	res = run(t, s, "Type:dataset", func(r *Request) {
		r.BBox = &document.BoundingBox{MinX: 11, MaxX: 19, MinY: -5, MaxY: 5}
	})
	assert.Empty(t, ids(res))

	res = run(t, s, "Type:dataset", func(r *Request) {
		r.BBox = &document.BoundingBox{MinX: -1, MaxX: 1, MinY: -1, MaxY: 1, CRS: "EPSG:3857"}
	})
	assert.Empty(t, ids(res), "boxes in another CRS do not match")
}

func TestExecuteSortsNullLast(t *testing.T) {
	s := catalog()
	res := run(t, s, "Type:dataset", func(r *Request) { r.SortBy = "Title" })
	assert.Equal(t, []string{"b", "a", "c"}, ids(res))

	res = run(t, s, "Type:dataset", func(r *Request) { r.SortBy = "Title"; r.Descending = true })
	assert.Equal(t, []string{"a", "b", "c"}, ids(res))
}

func TestExecutePaging(t *testing.T) {
	s := catalog()
	res := run(t, s, "Type:dataset", func(r *Request) { r.Offset = 1; r.Limit = 1 })
	assert.Equal(t, []string{"b"}, ids(res))
	assert.Equal(t, 3, res.TotalHits)

	res = run(t, s, "Type:dataset", func(r *Request) { r.Offset = 5 })
	assert.Empty(t, res.Results)
	assert.NotNil(t, res.Results)
}

func TestExecuteEngineError(t *testing.T) {
	s := catalog()
	s.err = errors.New("index closed")
	_, err := New(s).Execute(context.Background(), Request{Plan: parser.Parse("europe", "AnyText")})
	assert.ErrorContains(t, err, "index closed")
}

func TestExecuteHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(catalog()).Execute(ctx, Request{Plan: parser.Parse("europe", "AnyText")})
	assert.ErrorIs(t, err, context.Canceled)
}
