// Package executor runs parsed catalog queries against the index: one term
// query per clause, set algebra over the matching identifiers, an optional
// bounding-box filter, then sorting and paging.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/search/parser"
)

// Searcher answers single-field term queries. *indexer.Indexer and every
// engine.Engine implement it.
type Searcher interface {
	Search(ctx context.Context, q engine.Query) ([]engine.Hit, error)
}

// Request is one search.
type Request struct {
	Plan *parser.QueryPlan
	// BBox keeps only records with a box intersecting it.
	BBox *document.BoundingBox
	// SortBy is a queryable name; its sort field orders the results. Empty
	// sorts by identifier.
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

// Record is one hit with its stored fields.
type Record struct {
	ID     string                 `json:"id"`
	Fields map[string][]string    `json:"fields"`
	Boxes  []document.BoundingBox `json:"boxes,omitempty"`
}

// SearchResult is one page of hits.
type SearchResult struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Results   []Record       `json:"results"`
	TermStats map[string]int `json:"term_stats"`
}

// Executor turns a parsed query into an engine search.
type Executor struct {
	searcher Searcher
	logger   *slog.Logger
}

func New(s Searcher) *Executor {
	return &Executor{
		searcher: s,
		logger:   slog.Default().With("component", "query-executor"),
	}
}

// Execute runs req. An empty plan returns no results.
func (e *Executor) Execute(ctx context.Context, req Request) (*SearchResult, error) {
	plan := req.Plan
	if plan == nil || plan.Empty() {
		return &SearchResult{Results: []Record{}, TermStats: map[string]int{}}, nil
	}

	hits := make(map[string]engine.Hit)
	perTerm := make([]map[string]struct{}, 0, len(plan.Terms))
	termStats := make(map[string]int)
	for _, t := range plan.Terms {
		found, err := e.search(ctx, t)
		if err != nil {
			return nil, err
		}
		ids := make(map[string]struct{}, len(found))
		for _, h := range found {
			ids[h.ID] = struct{}{}
			hits[h.ID] = h
		}
		perTerm = append(perTerm, ids)
		termStats[t.Field+":"+t.Text] = len(found)
	}

	var candidates map[string]struct{}
	switch plan.Type {
	case parser.QueryOR:
		candidates = union(perTerm)
	default:
		candidates = intersect(perTerm)
	}

	for _, t := range plan.ExcludeTerms {
		if len(candidates) == 0 {
			break
		}
		found, err := e.search(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			delete(candidates, h.ID)
		}
	}

	records := make([]Record, 0, len(candidates))
	for id := range candidates {
		h := hits[id]
		if req.BBox != nil && !anyIntersects(h.Boxes, *req.BBox) {
			continue
		}
		records = append(records, Record{ID: h.ID, Fields: h.Fields, Boxes: h.Boxes})
	}
	sortRecords(records, req.SortBy, req.Descending)

	total := len(records)
	records = page(records, req.Offset, req.Limit)
	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"clauses", len(plan.Terms)+len(plan.ExcludeTerms),
		"total_hits", total,
		"returned", len(records),
	)
	return &SearchResult{
		Query:     plan.RawQuery,
		TotalHits: total,
		Results:   records,
		TermStats: termStats,
	}, nil
}

func (e *Executor) search(ctx context.Context, t parser.Term) ([]engine.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := e.searcher.Search(ctx, engine.Query{Field: t.Field, Term: t.Text})
	if err != nil {
		return nil, fmt.Errorf("searching %s:%q: %w", t.Field, t.Text, err)
	}
	return found, nil
}

// intersect starts from the smallest set.
func intersect(sets []map[string]struct{}) map[string]struct{} {
	if len(sets) == 0 {
		return make(map[string]struct{})
	}
	smallest := 0
	for i, s := range sets {
		if len(s) < len(sets[smallest]) {
			smallest = i
		}
	}
	out := make(map[string]struct{}, len(sets[smallest]))
	for id := range sets[smallest] {
		out[id] = struct{}{}
	}
	for i, s := range sets {
		if i == smallest {
			continue
		}
		for id := range out {
			if _, ok := s[id]; !ok {
				delete(out, id)
			}
		}
	}
	return out
}

func union(sets []map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

// anyIntersects compares boxes in the same CRS, or when either side leaves
// the CRS unset.
func anyIntersects(boxes []document.BoundingBox, q document.BoundingBox) bool {
	for _, b := range boxes {
		if b.CRS != "" && q.CRS != "" && !strings.EqualFold(b.CRS, q.CRS) {
			continue
		}
		if b.MinX <= q.MaxX && q.MinX <= b.MaxX && b.MinY <= q.MaxY && q.MinY <= b.MaxY {
			return true
		}
	}
	return false
}

// sortRecords orders by the sort field of by. Records without a value sort
// last in both directions; ties fall back to the identifier.
func sortRecords(records []Record, by string, desc bool) {
	if by == "" {
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		return
	}
	field := queryable.SortField(by)
	key := func(r Record) (string, bool) {
		vs := r.Fields[field]
		if len(vs) == 0 || vs[0] == "" || vs[0] == value.NoValue {
			return "", false
		}
		return vs[0], true
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, aok := key(records[i])
		b, bok := key(records[j])
		switch {
		case aok != bok:
			return aok
		case a != b:
			if desc {
				return a > b
			}
			return a < b
		}
		return records[i].ID < records[j].ID
	})
}

func page(records []Record, offset, limit int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []Record{}
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
