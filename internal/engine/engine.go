// Package engine defines the index engine contract shared by the segmented
// and Bleve back ends.
package engine

import (
	"context"
	"sort"
	"strconv"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/document"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
)

// Engine stores documents and answers single-field term queries. A document
// is identified by its ID; adding a document replaces any earlier version.
type Engine interface {
	// Exists reports whether an index is present at the engine location.
	Exists() bool
	// Open opens the index, creating an empty one if none exists.
	Open(ctx context.Context) error
	// Recreate discards any existing index and opens an empty one.
	Recreate(ctx context.Context) error
	Add(ctx context.Context, doc *document.Document) error
	Delete(ctx context.Context, id string) error
	// Optimize commits pending writes and compacts the index.
	Optimize(ctx context.Context) error
	Close() error
	Search(ctx context.Context, q Query) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}

// Query matches documents whose field contains term. Analyzed fields match
// when every token of term is present; exact fields compare the whole term.
type Query struct {
	Field string
	Term  string
}

// Hit is one matching document with its stored fields.
type Hit struct {
	ID     string
	Fields map[string][]string
	Boxes  []document.BoundingBox
}

// First returns the first stored value of field name.
func (h Hit) First(name string) string {
	if vs := h.Fields[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Stored flattens the stored entries of doc into the form returned in hits.
func Stored(doc *document.Document) map[string][]string {
	out := make(map[string][]string, len(doc.Names()))
	for _, name := range doc.Names() {
		for _, e := range doc.Entries(name) {
			if e.Stored {
				out[name] = append(out[name], e.Value)
			}
		}
	}
	return out
}

// BoxesOf rebuilds bounding boxes from stored bbox fields, pairing corners
// by position.
func BoxesOf(fields map[string][]string) []document.BoundingBox {
	minx, maxx := fields[queryable.FieldMinX], fields[queryable.FieldMaxX]
	miny, maxy := fields[queryable.FieldMinY], fields[queryable.FieldMaxY]
	crs := fields[queryable.FieldCRS]
	n := min(len(minx), len(maxx), len(miny), len(maxy))

	var boxes []document.BoundingBox
	for i := 0; i < n; i++ {
		var corners [4]float64
		ok := true
		for j, s := range []string{minx[i], maxx[i], miny[i], maxy[i]} {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			corners[j] = f
		}
		if !ok {
			continue
		}
		box := document.BoundingBox{MinX: corners[0], MaxX: corners[1], MinY: corners[2], MaxY: corners[3], CRS: document.DefaultCRS}
		if i < len(crs) {
			box.CRS = crs[i]
		}
		boxes = append(boxes, box)
	}
	return boxes
}

// SortHits orders hits by ID so that engines return deterministic results.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
}
