// Package document assembles index documents from metadata records.
package document

import (
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
)

// DefaultCRS is used for bounding boxes whose record names no reference
// system.
const DefaultCRS = "EPSG:4326"

// Entry is one value of a document field. Analyzed entries are tokenized for
// full-text search; the others are indexed as a single exact term.
type Entry struct {
	Value    string
	Number   float64
	Numeric  bool
	Stored   bool
	Analyzed bool
}

// BoundingBox is a geographic extent in the given reference system.
type BoundingBox struct {
	MinX float64 `json:"minx"`
	MaxX float64 `json:"maxx"`
	MinY float64 `json:"miny"`
	MaxY float64 `json:"maxy"`
	CRS  string  `json:"crs,omitempty"`
}

// Document is an ordered set of fields ready for an index engine.
type Document struct {
	ID       string
	Standard metadata.Standard
	Boxes    []BoundingBox

	names  []string
	fields map[string][]Entry
}

// New returns an empty document for record id.
func New(id string) *Document {
	return &Document{ID: id, fields: make(map[string][]Entry)}
}

// Add appends e to field name, keeping first-insertion field order.
func (d *Document) Add(name string, e Entry) {
	if _, ok := d.fields[name]; !ok {
		d.names = append(d.names, name)
	}
	d.fields[name] = append(d.fields[name], e)
}

// Names returns the field names in insertion order.
func (d *Document) Names() []string { return d.names }

// Entries returns every entry of field name, in insertion order.
func (d *Document) Entries(name string) []Entry { return d.fields[name] }

// Values returns the text of every entry of field name.
func (d *Document) Values(name string) []string {
	entries := d.fields[name]
	if len(entries) == 0 {
		return nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// First returns the first value of field name.
func (d *Document) First(name string) (string, bool) {
	entries := d.fields[name]
	if len(entries) == 0 {
		return "", false
	}
	return entries[0].Value, true
}

// Has reports whether field name holds at least one entry.
func (d *Document) Has(name string) bool { return len(d.fields[name]) > 0 }
