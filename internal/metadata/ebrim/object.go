// Package ebrim holds the typed ebXML registry information model used by the
// CSW ebRIM profile. Versions 2.5 and 3.0 share one model; they differ in
// namespace and in a few attributes.
package ebrim

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

// Version of the registry information model.
type Version int

const (
	V25 Version = iota
	V30
)

// Object is any RegistryObject subtype: ExtrinsicObject, RegistryPackage,
// Service, Organization and so on.
type Object struct {
	XMLName             xml.Name
	Version             Version              `xml:"-"`
	ID                  string               `xml:"id,attr"`
	LID                 string               `xml:"lid,attr"`
	Home                string               `xml:"home,attr"`
	ObjectType          string               `xml:"objectType,attr"`
	Status              string               `xml:"status,attr"`
	MimeType            string               `xml:"mimeType,attr"`
	Name                *InternationalString `xml:"Name"`
	Description         *InternationalString `xml:"Description"`
	Slots               []Slot               `xml:"Slot"`
	Classifications     []Classification     `xml:"Classification"`
	ExternalIdentifiers []ExternalIdentifier `xml:"ExternalIdentifier"`
}

// Decode parses a registry object of the given version.
func Decode(data []byte, v Version) (*Object, error) {
	o := Object{Version: v}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Object) TypeName() xml.Name { return o.XMLName }

func (o *Object) Resolve(seg string) []value.Value {
	switch strings.TrimPrefix(seg, "@") {
	case "id":
		return text(o.ID)
	case "lid":
		return text(o.LID)
	case "home":
		return text(o.Home)
	case "objectType":
		return text(o.ObjectType)
	case "status":
		return text(o.Status)
	case "mimeType":
		return text(o.MimeType)
	case "Name":
		return o.Name.node()
	case "Description":
		return o.Description.node()
	case "Slot":
		out := make([]value.Value, len(o.Slots))
		for i := range o.Slots {
			out[i] = value.NodeOf(o.Slots[i])
		}
		return out
	case "Classification":
		out := make([]value.Value, len(o.Classifications))
		for i := range o.Classifications {
			out[i] = value.NodeOf(o.Classifications[i])
		}
		return out
	case "ExternalIdentifier":
		out := make([]value.Value, len(o.ExternalIdentifiers))
		for i := range o.ExternalIdentifiers {
			out[i] = value.NodeOf(o.ExternalIdentifiers[i])
		}
		return out
	}
	return nil
}

// InternationalString is an ebRIM Name or Description.
type InternationalString struct {
	Strings []LocalizedString `xml:"LocalizedString"`
}

type LocalizedString struct {
	Lang    string `xml:"lang,attr"`
	Charset string `xml:"charset,attr"`
	Value   string `xml:"value,attr"`
}

func (s *InternationalString) node() []value.Value {
	if s == nil || len(s.Strings) == 0 {
		return nil
	}
	return []value.Value{value.NodeOf(s)}
}

func (s *InternationalString) Resolve(seg string) []value.Value {
	if seg != "LocalizedString" {
		return nil
	}
	out := make([]value.Value, len(s.Strings))
	for i := range s.Strings {
		out[i] = value.NodeOf(s.Strings[i])
	}
	return out
}

// Leaf makes a path ending on Name or Description yield the localized text.
func (s *InternationalString) Leaf() (value.Value, bool) {
	loc := value.Localized{Translations: make(map[string]string, len(s.Strings))}
	for i, ls := range s.Strings {
		if i == 0 {
			loc.Default = ls.Value
		}
		if ls.Lang != "" {
			loc.Translations[ls.Lang] = ls.Value
		}
	}
	return value.LocalizedOf(loc), true
}

func (l LocalizedString) Resolve(seg string) []value.Value {
	switch strings.TrimPrefix(seg, "@") {
	case "value":
		return text(l.Value)
	case "lang":
		return text(l.Lang)
	case "charset":
		return text(l.Charset)
	}
	return nil
}

// Slot is a named list of string values.
type Slot struct {
	Name     string   `xml:"name,attr"`
	SlotType string   `xml:"slotType,attr"`
	Values   []string `xml:"ValueList>Value"`
}

func (s Slot) Resolve(seg string) []value.Value {
	switch strings.TrimPrefix(seg, "@") {
	case "name":
		return text(s.Name)
	case "slotType":
		return text(s.SlotType)
	case "ValueList":
		if len(s.Values) == 0 {
			return nil
		}
		return []value.Value{value.NodeOf(valueList(s.Values))}
	}
	return nil
}

type valueList []string

func (v valueList) Resolve(seg string) []value.Value {
	if seg != "Value" {
		return nil
	}
	return text(v...)
}

// Classification links the object to a classification node.
type Classification struct {
	ID                 string               `xml:"id,attr"`
	ClassificationNode string               `xml:"classificationNode,attr"`
	ClassifiedObject   string               `xml:"classifiedObject,attr"`
	NodeRepresentation string               `xml:"nodeRepresentation,attr"`
	Name               *InternationalString `xml:"Name"`
}

func (c Classification) Resolve(seg string) []value.Value {
	switch strings.TrimPrefix(seg, "@") {
	case "id":
		return text(c.ID)
	case "classificationNode":
		return text(c.ClassificationNode)
	case "classifiedObject":
		return text(c.ClassifiedObject)
	case "nodeRepresentation":
		return text(c.NodeRepresentation)
	case "Name":
		return c.Name.node()
	}
	return nil
}

type ExternalIdentifier struct {
	ID                   string `xml:"id,attr"`
	IdentificationScheme string `xml:"identificationScheme,attr"`
	Value                string `xml:"value,attr"`
}

func (e ExternalIdentifier) Resolve(seg string) []value.Value {
	switch strings.TrimPrefix(seg, "@") {
	case "id":
		return text(e.ID)
	case "identificationScheme":
		return text(e.IdentificationScheme)
	case "value":
		return text(e.Value)
	}
	return nil
}

func text(ss ...string) []value.Value {
	var out []value.Value
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, value.Text(s))
		}
	}
	return out
}
