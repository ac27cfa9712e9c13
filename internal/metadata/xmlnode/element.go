// Package xmlnode is a generic element tree that exposes any XML metadata
// document as a value.Node graph. It backs standards without a typed model
// and the "node" decode mode.
package xmlnode

import (
	"bytes"
	"encoding/xml"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

// Element is one XML element with its attributes, children and trimmed text.
type Element struct {
	Name     xml.Name
	Attrs    []xml.Attr
	Children []*Element
	Text     string
}

// Parse builds the element tree of a document.
func Parse(data []byte) (*Element, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one document from r.
func Decode(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var stack []*Element
	var root *Element
	var text [][]byte

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name, Attrs: attributes(t.Attr)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else if root == nil {
				root = el
			}
			stack = append(stack, el)
			text = append(text, nil)
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			el := stack[len(stack)-1]
			el.Text = strings.TrimSpace(string(text[len(text)-1]))
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		case xml.CharData:
			if len(text) > 0 {
				text[len(text)-1] = append(text[len(text)-1], t...)
			}
		}
	}
	if root == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// attributes drops namespace declarations.
func attributes(attrs []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (e *Element) TypeName() xml.Name { return e.Name }

// Attr returns the value of the attribute with the given local name.
func (e *Element) Attr(local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child with the given local name.
func (e *Element) Child(local string) *Element {
	for _, c := range e.Children {
		if c.Name.Local == local {
			return c
		}
	}
	return nil
}

// Resolve returns the children named segment. "@name" addresses an
// attribute; a plain name falls back to an attribute when no child matches.
// Coordinate tuples come back as lists of numbers.
func (e *Element) Resolve(segment string) []value.Value {
	if attr, ok := strings.CutPrefix(segment, "@"); ok {
		if v, found := e.Attr(attr); found {
			return []value.Value{value.Text(v)}
		}
		return nil
	}

	var out []value.Value
	for _, c := range e.Children {
		if c.Name.Local != segment {
			continue
		}
		if coords, ok := coordinates(c); ok {
			out = append(out, coords)
			continue
		}
		out = append(out, value.NodeOf(c))
	}
	if len(out) > 0 {
		return out
	}
	if v, found := e.Attr(segment); found {
		return []value.Value{value.Text(v)}
	}
	// ISO encodings alternate property and object elements. Paths name only
	// properties, so step through a lone object child.
	if obj := e.object(); obj != nil {
		return obj.Resolve(segment)
	}
	return nil
}

func (e *Element) object() *Element {
	if len(e.Children) != 1 {
		return nil
	}
	c := e.Children[0]
	if c.Name.Local == "" || !unicode.IsUpper(rune(c.Name.Local[0])) || wrappers[c.Name.Local] {
		return nil
	}
	return c
}

// Wrapper elements carry the value of their parent property.
var wrappers = map[string]bool{
	"CharacterString": true,
	"Anchor":          true,
	"Date":            true,
	"DateTime":        true,
	"Decimal":         true,
	"Real":            true,
	"Integer":         true,
	"Boolean":         true,
	"Distance":        true,
	"Measure":         true,
	"URL":             true,
	"LocalName":       true,
	"ScopedName":      true,
	"FileName":        true,
	"MimeFileType":    true,

	"MD_TopicCategoryCode": true,
}

// Leaf collapses property elements onto their scalar content.
func (e *Element) Leaf() (value.Value, bool) {
	if code, ok := e.code(); ok {
		return code, true
	}
	switch len(e.Children) {
	case 0:
		return e.scalar(), true
	case 1:
		c := e.Children[0]
		if wrappers[c.Name.Local] || c.isCode() {
			return c.Leaf()
		}
	case 2:
		if loc, ok := e.localized(); ok {
			return loc, true
		}
	}
	return value.Value{}, false
}

func (e *Element) isCode() bool {
	_, ok := e.Attr("codeListValue")
	return ok
}

func (e *Element) code() (value.Value, bool) {
	v, ok := e.Attr("codeListValue")
	if !ok {
		return value.Value{}, false
	}
	list, _ := e.Attr("codeList")
	if list == "" {
		list = e.Name.Local
	}
	return value.CodeOf(value.Code{List: list, Value: v, Label: e.Text}), true
}

// localized handles a CharacterString paired with a PT_FreeText block.
func (e *Element) localized() (value.Value, bool) {
	str := e.Child("CharacterString")
	free := e.Child("PT_FreeText")
	if str == nil || free == nil {
		return value.Value{}, false
	}
	loc := value.Localized{Default: str.Text, Translations: map[string]string{}}
	for _, group := range free.Children {
		for _, ls := range group.Children {
			if ls.Name.Local != "LocalisedCharacterString" {
				continue
			}
			locale, _ := ls.Attr("locale")
			loc.Translations[strings.TrimPrefix(locale, "#")] = ls.Text
		}
	}
	return value.LocalizedOf(loc), true
}

var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02", true},
}

func (e *Element) scalar() value.Value {
	if e.Text == "" {
		return value.None()
	}
	switch e.Name.Local {
	case "Date", "DateTime", "beginPosition", "endPosition", "timePosition":
		for _, l := range dateLayouts {
			if t, err := time.Parse(l.layout, e.Text); err == nil {
				if l.dateOnly {
					return value.Date(t)
				}
				return value.DateTime(t)
			}
		}
	case "Decimal", "Real", "Distance", "Measure":
		if f, err := strconv.ParseFloat(e.Text, 64); err == nil {
			return value.Float(f)
		}
	case "Integer":
		if i, err := strconv.ParseInt(e.Text, 10, 64); err == nil {
			return value.Int(i)
		}
		if b, ok := new(big.Int).SetString(e.Text, 10); ok {
			return value.BigInt(b)
		}
	case "Boolean":
		if b, err := strconv.ParseBool(e.Text); err == nil {
			return value.Bool(b)
		}
	}
	return value.Text(e.Text)
}

// Coordinate tuples are exposed as number lists so that ordinals select
// individual coordinates.
var coordinateElements = map[string]bool{
	"LowerCorner": true,
	"UpperCorner": true,
	"lowerCorner": true,
	"upperCorner": true,
	"pos":         true,
}

func coordinates(e *Element) (value.Value, bool) {
	if !coordinateElements[e.Name.Local] || len(e.Children) > 0 {
		return value.Value{}, false
	}
	fields := strings.Fields(e.Text)
	if len(fields) == 0 {
		return value.Value{}, false
	}
	vals := make([]value.Value, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return value.Value{}, false
		}
		vals[i] = value.Float(n)
	}
	return value.List(vals...), true
}
