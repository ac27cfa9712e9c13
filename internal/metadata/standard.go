// Package metadata models catalog records and the standards they follow.
package metadata

import (
	"encoding/xml"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

// Standard identifies the metadata schema a record conforms to.
type Standard int

const (
	Unknown Standard = iota
	ISO19139
	DublinCore
	Ebrim25
	Ebrim30
	FeatureCatalogue
)

// Standards lists every known standard in detection order.
var Standards = []Standard{ISO19139, DublinCore, Ebrim25, Ebrim30, FeatureCatalogue}

var standardKeys = map[Standard]string{
	Unknown:          "unknown",
	ISO19139:         "iso19115",
	DublinCore:       "dublincore",
	Ebrim25:          "ebrim25",
	Ebrim30:          "ebrim30",
	FeatureCatalogue: "featurecatalogue",
}

// String returns the configuration key of the standard.
func (s Standard) String() string {
	if k, ok := standardKeys[s]; ok {
		return k
	}
	return "unknown"
}

// ParseStandard maps a configuration key back to a Standard.
func ParseStandard(key string) (Standard, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for s, k := range standardKeys {
		if k == key && s != Unknown {
			return s, true
		}
	}
	return Unknown, false
}

// Path labels used in the leading segment of colon paths.
var labelStandards = map[string]Standard{
	"iso 19115":           ISO19139,
	"iso 19115-2":         ISO19139,
	"iso 19139":           ISO19139,
	"catalog web service": DublinCore,
	"dublin core":         DublinCore,
	"ebrim v2.5":          Ebrim25,
	"ebrim v3.0":          Ebrim30,
	"iso 19110":           FeatureCatalogue,
	"feature catalogue":   FeatureCatalogue,
}

// StandardForLabel returns the standard a path label refers to. Labels that
// do not name a standard, including "", return Unknown.
func StandardForLabel(label string) Standard {
	return labelStandards[strings.ToLower(strings.TrimSpace(label))]
}

const (
	NamespaceGMD   = "http://www.isotc211.org/2005/gmd"
	NamespaceGMI   = "http://www.isotc211.org/2005/gmi"
	NamespaceGFC   = "http://www.isotc211.org/2005/gfc"
	NamespaceCSW   = "http://www.opengis.net/cat/csw/2.0.2"
	NamespaceRIM25 = "urn:oasis:names:tc:ebxml-regrep:rim:xsd:2.5"
	NamespaceRIM30 = "urn:oasis:names:tc:ebxml-regrep:xsd:rim:3.0"
)

// Record is a decoded metadata record. Its root is the entry point for path
// resolution.
type Record interface {
	value.Node
	TypeName() xml.Name
}
