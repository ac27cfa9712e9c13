// Package iso holds the typed ISO 19139 (ISO 19115 in XML) record model. The
// structs decode the XML encoding directly and each type resolves path
// segments by the ISO property names, so typed and element-tree records answer
// the same colon paths.
package iso

import (
	"bytes"
	"encoding/xml"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

// Metadata is MD_Metadata, or MI_Metadata for imagery records.
type Metadata struct {
	XMLName             xml.Name
	UUID                string             `xml:"uuid,attr"`
	FileIdentifier      *Text              `xml:"fileIdentifier"`
	Language            *Language          `xml:"language"`
	CharacterSet        *CodeProperty      `xml:"characterSet"`
	ParentIdentifier    *Text              `xml:"parentIdentifier"`
	HierarchyLevel      []CodeProperty     `xml:"hierarchyLevel"`
	HierarchyLevelName  []Text             `xml:"hierarchyLevelName"`
	Contact             []ResponsibleParty `xml:"contact>CI_ResponsibleParty"`
	DateStamp           *DateProperty      `xml:"dateStamp"`
	StandardName        *Text              `xml:"metadataStandardName"`
	StandardVersion     *Text              `xml:"metadataStandardVersion"`
	ReferenceSystemInfo []ReferenceSystem  `xml:"referenceSystemInfo>MD_ReferenceSystem"`
	IdentificationInfo  []Identification   `xml:"identificationInfo"`
	DistributionInfo    []Distribution     `xml:"distributionInfo>MD_Distribution"`
	DataQualityInfo     []DataQuality      `xml:"dataQualityInfo>DQ_DataQuality"`
}

// Decode parses an MD_Metadata or MI_Metadata document.
func Decode(data []byte) (*Metadata, error) {
	var m Metadata
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metadata) TypeName() xml.Name { return m.XMLName }

func (m *Metadata) Resolve(seg string) []value.Value {
	switch seg {
	case "uuid", "@uuid":
		return text(m.UUID)
	case "fileIdentifier":
		return m.FileIdentifier.values()
	case "language":
		return m.Language.values()
	case "characterSet":
		return m.CharacterSet.values()
	case "parentIdentifier":
		return m.ParentIdentifier.values()
	case "hierarchyLevel":
		return codes(m.HierarchyLevel)
	case "hierarchyLevelName":
		return texts(m.HierarchyLevelName)
	case "contact":
		return nodes(m.Contact)
	case "dateStamp":
		return m.DateStamp.values()
	case "metadataStandardName":
		return m.StandardName.values()
	case "metadataStandardVersion":
		return m.StandardVersion.values()
	case "referenceSystemInfo":
		return nodes(m.ReferenceSystemInfo)
	case "identificationInfo":
		return nodes(m.IdentificationInfo)
	case "distributionInfo":
		return nodes(m.DistributionInfo)
	case "dataQualityInfo":
		return nodes(m.DataQualityInfo)
	}
	return nil
}

// Identification is either MD_DataIdentification or SV_ServiceIdentification;
// both share the citation, abstract, keyword and extent properties.
type Identification struct {
	Data    *DataIdentification `xml:"MD_DataIdentification"`
	Service *DataIdentification `xml:"SV_ServiceIdentification"`
}

func (i Identification) Resolve(seg string) []value.Value {
	if i.Data != nil {
		return i.Data.Resolve(seg)
	}
	if i.Service != nil {
		return i.Service.Resolve(seg)
	}
	return nil
}

// DataIdentification describes the dataset the record is about.
type DataIdentification struct {
	Citation            *Citation          `xml:"citation>CI_Citation"`
	Abstract            *Text              `xml:"abstract"`
	Purpose             *Text              `xml:"purpose"`
	Status              []CodeProperty     `xml:"status"`
	PointOfContact      []ResponsibleParty `xml:"pointOfContact>CI_ResponsibleParty"`
	DescriptiveKeywords []Keywords         `xml:"descriptiveKeywords>MD_Keywords"`
	ResourceConstraints []Constraints      `xml:"resourceConstraints"`
	SpatialResolution   []Resolution       `xml:"spatialResolution>MD_Resolution"`
	Language            []Language         `xml:"language"`
	TopicCategory       []string           `xml:"topicCategory>MD_TopicCategoryCode"`
	Extent              []Extent           `xml:"extent>EX_Extent"`
	ServiceType         *Text              `xml:"serviceType"`
}

func (d *DataIdentification) Resolve(seg string) []value.Value {
	switch seg {
	case "citation":
		if d.Citation == nil {
			return nil
		}
		return []value.Value{value.NodeOf(d.Citation)}
	case "abstract":
		return d.Abstract.values()
	case "purpose":
		return d.Purpose.values()
	case "status":
		return codes(d.Status)
	case "pointOfContact":
		return nodes(d.PointOfContact)
	case "descriptiveKeywords":
		return nodes(d.DescriptiveKeywords)
	case "resourceConstraints":
		return nodes(d.ResourceConstraints)
	case "spatialResolution":
		return nodes(d.SpatialResolution)
	case "language":
		var out []value.Value
		for i := range d.Language {
			out = append(out, d.Language[i].values()...)
		}
		return out
	case "topicCategory":
		return text(d.TopicCategory...)
	case "extent":
		return nodes(d.Extent)
	case "serviceType":
		return d.ServiceType.values()
	}
	return nil
}

// Citation is a CI_Citation.
type Citation struct {
	Title          *Text              `xml:"title"`
	AlternateTitle []Text             `xml:"alternateTitle"`
	Date           []CitationDate     `xml:"date>CI_Date"`
	Edition        *Text              `xml:"edition"`
	Identifier     []Identifier       `xml:"identifier>MD_Identifier"`
	CitedParty     []ResponsibleParty `xml:"citedResponsibleParty>CI_ResponsibleParty"`
}

func (c *Citation) Resolve(seg string) []value.Value {
	switch seg {
	case "title":
		return c.Title.values()
	case "alternateTitle":
		return texts(c.AlternateTitle)
	case "date":
		return nodes(c.Date)
	case "edition":
		return c.Edition.values()
	case "identifier":
		return nodes(c.Identifier)
	case "citedResponsibleParty":
		return nodes(c.CitedParty)
	}
	return nil
}

type CitationDate struct {
	Date     DateProperty `xml:"date"`
	DateType CodeProperty `xml:"dateType"`
}

func (d CitationDate) Resolve(seg string) []value.Value {
	switch seg {
	case "date":
		return d.Date.values()
	case "dateType":
		return d.DateType.values()
	}
	return nil
}

// Identifier is MD_Identifier or RS_Identifier.
type Identifier struct {
	Code      Text `xml:"code"`
	CodeSpace Text `xml:"codeSpace"`
}

func (i Identifier) Resolve(seg string) []value.Value {
	switch seg {
	case "code":
		return i.Code.values()
	case "codeSpace":
		return i.CodeSpace.values()
	}
	return nil
}

// ResponsibleParty is a CI_ResponsibleParty.
type ResponsibleParty struct {
	IndividualName   *Text        `xml:"individualName"`
	OrganisationName *Text        `xml:"organisationName"`
	PositionName     *Text        `xml:"positionName"`
	Email            []Text       `xml:"contactInfo>CI_Contact>address>CI_Address>electronicMailAddress"`
	Role             CodeProperty `xml:"role"`
}

func (r ResponsibleParty) Resolve(seg string) []value.Value {
	switch seg {
	case "individualName":
		return r.IndividualName.values()
	case "organisationName":
		return r.OrganisationName.values()
	case "positionName":
		return r.PositionName.values()
	case "electronicMailAddress":
		return texts(r.Email)
	case "role":
		return r.Role.values()
	}
	return nil
}

type Keywords struct {
	Keyword       []Text       `xml:"keyword"`
	Type          CodeProperty `xml:"type"`
	ThesaurusName *Citation    `xml:"thesaurusName>CI_Citation"`
}

func (k Keywords) Resolve(seg string) []value.Value {
	switch seg {
	case "keyword":
		return texts(k.Keyword)
	case "type":
		return k.Type.values()
	case "thesaurusName":
		if k.ThesaurusName == nil {
			return nil
		}
		return []value.Value{value.NodeOf(k.ThesaurusName)}
	}
	return nil
}

// Constraints wraps any of the MD_Constraints family.
type Constraints struct {
	Body *constraintBody `xml:",any"`
}

type constraintBody struct {
	UseLimitation  []Text         `xml:"useLimitation"`
	AccessConstr   []CodeProperty `xml:"accessConstraints"`
	Classification CodeProperty   `xml:"classification"`
}

func (c Constraints) Resolve(seg string) []value.Value {
	if c.Body == nil {
		return nil
	}
	return c.Body.resolve(seg)
}

func (c *constraintBody) resolve(seg string) []value.Value {
	switch seg {
	case "useLimitation":
		return texts(c.UseLimitation)
	case "accessConstraints":
		return codes(c.AccessConstr)
	case "classification":
		return c.Classification.values()
	}
	return nil
}

type Resolution struct {
	Denominator *string      `xml:"equivalentScale>MD_RepresentativeFraction>denominator>Integer"`
	Distance    *NumberValue `xml:"distance>Distance"`
}

func (r Resolution) Resolve(seg string) []value.Value {
	switch seg {
	case "equivalentScale":
		if r.Denominator == nil {
			return nil
		}
		return []value.Value{value.NodeOf(scale{denominator: *r.Denominator})}
	case "distance":
		if r.Distance == nil {
			return nil
		}
		return r.Distance.values()
	}
	return nil
}

type scale struct{ denominator string }

func (s scale) Resolve(seg string) []value.Value {
	if seg != "denominator" {
		return nil
	}
	return integer(s.denominator)
}

// Extent is an EX_Extent.
type Extent struct {
	Description       *Text                   `xml:"description"`
	GeographicElement []GeographicBoundingBox `xml:"geographicElement>EX_GeographicBoundingBox"`
	TemporalElement   []TemporalExtent        `xml:"temporalElement>EX_TemporalExtent"`
}

func (e Extent) Resolve(seg string) []value.Value {
	switch seg {
	case "description":
		return e.Description.values()
	case "geographicElement":
		return nodes(e.GeographicElement)
	case "temporalElement":
		return nodes(e.TemporalElement)
	}
	return nil
}

// GeographicBoundingBox holds decimal degree bounds.
type GeographicBoundingBox struct {
	West  NumberValue `xml:"westBoundLongitude>Decimal"`
	East  NumberValue `xml:"eastBoundLongitude>Decimal"`
	South NumberValue `xml:"southBoundLatitude>Decimal"`
	North NumberValue `xml:"northBoundLatitude>Decimal"`
}

func (b GeographicBoundingBox) Resolve(seg string) []value.Value {
	switch seg {
	case "westBoundLongitude":
		return b.West.values()
	case "eastBoundLongitude":
		return b.East.values()
	case "southBoundLatitude":
		return b.South.values()
	case "northBoundLatitude":
		return b.North.values()
	}
	return nil
}

type TemporalExtent struct {
	Begin   string `xml:"extent>TimePeriod>beginPosition"`
	End     string `xml:"extent>TimePeriod>endPosition"`
	Instant string `xml:"extent>TimeInstant>timePosition"`
}

func (t TemporalExtent) Resolve(seg string) []value.Value {
	if seg != "extent" {
		return nil
	}
	return []value.Value{value.NodeOf(period(t))}
}

type period TemporalExtent

func (p period) Resolve(seg string) []value.Value {
	switch seg {
	case "beginPosition":
		return date(p.Begin)
	case "endPosition":
		return date(p.End)
	case "timePosition":
		return date(p.Instant)
	}
	return nil
}

type ReferenceSystem struct {
	Identifier *Identifier `xml:"referenceSystemIdentifier>RS_Identifier"`
}

func (r ReferenceSystem) Resolve(seg string) []value.Value {
	if seg != "referenceSystemIdentifier" || r.Identifier == nil {
		return nil
	}
	return []value.Value{value.NodeOf(*r.Identifier)}
}

// Distribution is an MD_Distribution.
type Distribution struct {
	Format          []Format         `xml:"distributionFormat>MD_Format"`
	TransferOptions []TransferOption `xml:"transferOptions>MD_DigitalTransferOptions"`
}

func (d Distribution) Resolve(seg string) []value.Value {
	switch seg {
	case "distributionFormat":
		return nodes(d.Format)
	case "transferOptions":
		return nodes(d.TransferOptions)
	}
	return nil
}

type Format struct {
	Name    Text `xml:"name"`
	Version Text `xml:"version"`
}

func (f Format) Resolve(seg string) []value.Value {
	switch seg {
	case "name":
		return f.Name.values()
	case "version":
		return f.Version.values()
	}
	return nil
}

type TransferOption struct {
	OnLine []OnlineResource `xml:"onLine>CI_OnlineResource"`
}

func (t TransferOption) Resolve(seg string) []value.Value {
	if seg != "onLine" {
		return nil
	}
	return nodes(t.OnLine)
}

type OnlineResource struct {
	Linkage  string `xml:"linkage>URL"`
	Protocol Text   `xml:"protocol"`
	Name     Text   `xml:"name"`
}

func (o OnlineResource) Resolve(seg string) []value.Value {
	switch seg {
	case "linkage":
		return text(o.Linkage)
	case "protocol":
		return o.Protocol.values()
	case "name":
		return o.Name.values()
	}
	return nil
}

type DataQuality struct {
	Statement *Text `xml:"lineage>LI_Lineage>statement"`
}

func (q DataQuality) Resolve(seg string) []value.Value {
	if seg != "lineage" || q.Statement == nil {
		return nil
	}
	return []value.Value{value.NodeOf(lineage{statement: q.Statement})}
}

type lineage struct{ statement *Text }

func (l lineage) Resolve(seg string) []value.Value {
	if seg != "statement" {
		return nil
	}
	return l.statement.values()
}

// Text is a character string property, optionally internationalised.
type Text struct {
	CharacterString *string   `xml:"CharacterString"`
	Anchor          *string   `xml:"Anchor"`
	FreeText        *FreeText `xml:"PT_FreeText"`
}

// FreeText holds the PT_FreeText translations of a text element.
type FreeText struct {
	Groups []struct {
		Value  string `xml:",chardata"`
		Locale string `xml:"locale,attr"`
	} `xml:"textGroup>LocalisedCharacterString"`
}

func (t *Text) values() []value.Value {
	if t == nil {
		return nil
	}
	var def string
	switch {
	case t.CharacterString != nil:
		def = strings.TrimSpace(*t.CharacterString)
	case t.Anchor != nil:
		def = strings.TrimSpace(*t.Anchor)
	}
	if t.FreeText == nil || len(t.FreeText.Groups) == 0 {
		return text(def)
	}
	loc := value.Localized{Default: def, Translations: make(map[string]string, len(t.FreeText.Groups))}
	for _, g := range t.FreeText.Groups {
		loc.Translations[strings.TrimPrefix(g.Locale, "#")] = strings.TrimSpace(g.Value)
	}
	return []value.Value{value.LocalizedOf(loc)}
}

// Language is either a plain character string or a LanguageCode element.
type Language struct {
	CharacterString *string    `xml:"CharacterString"`
	Code            *CodeValue `xml:"LanguageCode"`
}

func (l *Language) values() []value.Value {
	if l == nil {
		return nil
	}
	if l.Code != nil {
		return l.Code.values()
	}
	if l.CharacterString != nil {
		return text(*l.CharacterString)
	}
	return nil
}

// CodeProperty wraps one code-list element of any type.
type CodeProperty struct {
	Code *CodeValue `xml:",any"`
}

func (c *CodeProperty) values() []value.Value {
	if c == nil || c.Code == nil {
		return nil
	}
	return c.Code.values()
}

// CodeValue is a code list element. The value attribute wins over the text.
type CodeValue struct {
	XMLName       xml.Name
	CodeList      string `xml:"codeList,attr"`
	CodeListValue string `xml:"codeListValue,attr"`
	Label         string `xml:",chardata"`
}

func (c *CodeValue) values() []value.Value {
	list := c.CodeList
	if list == "" {
		list = c.XMLName.Local
	}
	v := strings.TrimSpace(c.CodeListValue)
	label := strings.TrimSpace(c.Label)
	if v == "" && label == "" {
		return nil
	}
	if v == "" {
		v = label
	}
	return []value.Value{value.CodeOf(value.Code{List: list, Value: v, Label: label})}
}

// DateProperty holds a gco:Date or gco:DateTime.
type DateProperty struct {
	Date     *string `xml:"Date"`
	DateTime *string `xml:"DateTime"`
}

func (d *DateProperty) values() []value.Value {
	if d == nil {
		return nil
	}
	if d.DateTime != nil {
		return date(*d.DateTime)
	}
	if d.Date != nil {
		return date(*d.Date)
	}
	return nil
}

// NumberValue is decoded verbatim and parsed on resolution so that values
// beyond float64 precision survive as decimals.
type NumberValue struct {
	Raw string `xml:",chardata"`
}

func (n *NumberValue) values() []value.Value {
	s := strings.TrimSpace(n.Raw)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return []value.Value{value.Float(f)}
	}
	if d, ok := new(big.Float).SetString(s); ok {
		return []value.Value{value.Decimal(d)}
	}
	return text(s)
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

func texts(ts []Text) []value.Value {
	var out []value.Value
	for i := range ts {
		out = append(out, ts[i].values()...)
	}
	return out
}

func codes(cs []CodeProperty) []value.Value {
	var out []value.Value
	for i := range cs {
		out = append(out, cs[i].values()...)
	}
	return out
}

func nodes[T value.Node](items []T) []value.Value {
	out := make([]value.Value, 0, len(items))
	for _, it := range items {
		out = append(out, value.NodeOf(it))
	}
	return out
}

func integer(s string) []value.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return []value.Value{value.Int(i)}
	}
	if b, ok := new(big.Int).SetString(s, 10); ok {
		return []value.Value{value.BigInt(b)}
	}
	return text(s)
}

var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02", true},
}

// date parses ISO dates; unparseable input is kept as text and canonicalised
// by the normalizer.
func date(s string) []value.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			if l.dateOnly {
				return []value.Value{value.Date(t)}
			}
			return []value.Value{value.DateTime(t)}
		}
	}
	return text(s)
}
