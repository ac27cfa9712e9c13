// Package dublincore holds the typed csw:Record model (Dublin Core elements
// plus the OWS bounding box).
package dublincore

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

// Record is a csw:Record, csw:SummaryRecord or csw:BriefRecord.
type Record struct {
	XMLName     xml.Name
	Identifier  []Literal     `xml:"identifier"`
	Title       []Literal     `xml:"title"`
	Type        []Literal     `xml:"type"`
	Subject     []Literal     `xml:"subject"`
	Format      []Literal     `xml:"format"`
	Relation    []Literal     `xml:"relation"`
	Modified    []Literal     `xml:"modified"`
	Date        []Literal     `xml:"date"`
	Abstract    []Literal     `xml:"abstract"`
	Description []Literal     `xml:"description"`
	Creator     []Literal     `xml:"creator"`
	Publisher   []Literal     `xml:"publisher"`
	Contributor []Literal     `xml:"contributor"`
	Language    []Literal     `xml:"language"`
	Source      []Literal     `xml:"source"`
	Rights      []Literal     `xml:"rights"`
	Spatial     []Literal     `xml:"spatial"`
	Coverage    []Literal     `xml:"coverage"`
	References  []Literal     `xml:"references"`
	BoundingBox []BoundingBox `xml:"BoundingBox"`
}

// Literal is a dc:SimpleLiteral.
type Literal struct {
	Value  string `xml:",chardata"`
	Scheme string `xml:"scheme,attr"`
}

// BoundingBox is an ows:BoundingBox or ows:WGS84BoundingBox.
type BoundingBox struct {
	CRS         string `xml:"crs,attr"`
	LowerCorner string `xml:"LowerCorner"`
	UpperCorner string `xml:"UpperCorner"`
}

// Decode parses a CSW record document.
func Decode(data []byte) (*Record, error) {
	var r Record
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Record) TypeName() xml.Name { return r.XMLName }

func (r *Record) Resolve(seg string) []value.Value {
	switch seg {
	case "identifier":
		return literals(r.Identifier)
	case "title":
		return literals(r.Title)
	case "type":
		return literals(r.Type)
	case "subject":
		return literals(r.Subject)
	case "format":
		return literals(r.Format)
	case "relation":
		return literals(r.Relation)
	case "modified":
		return literals(r.Modified)
	case "date":
		return literals(r.Date)
	case "abstract":
		return literals(r.Abstract)
	case "description":
		return literals(r.Description)
	case "creator":
		return literals(r.Creator)
	case "publisher":
		return literals(r.Publisher)
	case "contributor":
		return literals(r.Contributor)
	case "language":
		return literals(r.Language)
	case "source":
		return literals(r.Source)
	case "rights":
		return literals(r.Rights)
	case "spatial":
		return literals(r.Spatial)
	case "coverage":
		return literals(r.Coverage)
	case "references":
		return literals(r.References)
	case "BoundingBox":
		out := make([]value.Value, len(r.BoundingBox))
		for i := range r.BoundingBox {
			out[i] = value.NodeOf(r.BoundingBox[i])
		}
		return out
	}
	return nil
}

// Resolve exposes the corners as coordinate lists, so LowerCorner[0] is the
// minimum x.
func (b BoundingBox) Resolve(seg string) []value.Value {
	switch seg {
	case "crs", "@crs":
		if s := strings.TrimSpace(b.CRS); s != "" {
			return []value.Value{value.Text(s)}
		}
	case "LowerCorner":
		return corner(b.LowerCorner)
	case "UpperCorner":
		return corner(b.UpperCorner)
	}
	return nil
}

func corner(s string) []value.Value {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	coords := make([]value.Value, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		coords = append(coords, value.Float(n))
	}
	return []value.Value{value.List(coords...)}
}

func literals(ls []Literal) []value.Value {
	var out []value.Value
	for _, l := range ls {
		if s := strings.TrimSpace(l.Value); s != "" {
			out = append(out, value.Text(s))
		}
	}
	return out
}
