package metadata

import "encoding/xml"

type detector struct {
	standard Standard
	match    func(xml.Name) bool
}

// detectors run in order and the first match wins, so a record is never
// attributed to two standards.
var detectors = []detector{
	{ISO19139, isISO19139},
	{DublinCore, isDublinCore},
	{Ebrim25, func(n xml.Name) bool { return n.Space == NamespaceRIM25 }},
	{Ebrim30, func(n xml.Name) bool { return n.Space == NamespaceRIM30 }},
	{FeatureCatalogue, isFeatureCatalogue},
}

// Detect classifies rec by its root element.
func Detect(rec Record) (Standard, bool) {
	if rec == nil {
		return Unknown, false
	}
	return DetectName(rec.TypeName())
}

// DetectName classifies a root element name.
func DetectName(name xml.Name) (Standard, bool) {
	for _, d := range detectors {
		if d.match(name) {
			return d.standard, true
		}
	}
	return Unknown, false
}

func isISO19139(n xml.Name) bool {
	if n.Local != "MD_Metadata" && n.Local != "MI_Metadata" {
		return false
	}
	return n.Space == "" || n.Space == NamespaceGMD || n.Space == NamespaceGMI
}

func isDublinCore(n xml.Name) bool {
	switch n.Local {
	case "Record", "SummaryRecord", "BriefRecord":
		return n.Space == "" || n.Space == NamespaceCSW
	}
	return false
}

func isFeatureCatalogue(n xml.Name) bool {
	return n.Local == "FC_FeatureCatalogue" && (n.Space == "" || n.Space == NamespaceGFC)
}
