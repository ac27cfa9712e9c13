// Package path parses the textual paths that address values inside a
// metadata record and resolves them against a value.Node graph.
//
// Two notations are accepted:
//
//	ISO 19115:MD_Metadata:identificationInfo:citation:title
//	/gmd:MD_Metadata/gmd:identificationInfo/gmd:citation/gmd:title
//
// The colon form may start with a standard label, which is informational and
// kept for filtering. The first remaining segment names the record root type.
// Any segment may carry a repetition ordinal ("keyword[2]") or address an
// attribute ("@codeListValue"). One segment per path may introduce a
// condition: "date#dateType=revision:date" keeps only the date branches whose
// dateType equals "revision" and continues with the suffix after the literal.
package path

import (
	"strconv"
	"strings"

	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

// AnyRoot matches every record root type.
const AnyRoot = "*"

// NoOrdinal marks a step without a repetition selector.
const NoOrdinal = -1

// Step is one navigation segment.
type Step struct {
	Name    string
	Attr    bool
	Ordinal int
}

func (s Step) String() string {
	name := s.Name
	if s.Attr {
		name = "@" + name
	}
	if s.Ordinal != NoOrdinal {
		name += "[" + strconv.Itoa(s.Ordinal) + "]"
	}
	return name
}

// Condition filters the branches reached by the path prefix.
type Condition struct {
	Attribute Step
	Literal   string
	Suffix    []Step
}

// Expression is a parsed path.
type Expression struct {
	raw      string
	standard string
	root     string
	steps    []Step
	cond     *Condition
}

// String returns the expression as written.
func (e *Expression) String() string { return e.raw }

// Standard is the leading label of a colon-form path, or "".
func (e *Expression) Standard() string { return e.standard }

// Root is the record root type the path applies to.
func (e *Expression) Root() string { return e.root }

// Steps are the navigation segments after the root, up to any condition.
func (e *Expression) Steps() []Step { return e.steps }

// Condition is the path's branch filter, or nil.
func (e *Expression) Condition() *Condition { return e.cond }

// SameParent reports whether a and b address children of the same element:
// equal roots and equal steps up to their last one, ordinals ignored.
// Conditional paths never share a parent.
func SameParent(a, b *Expression) bool {
	if a == nil || b == nil || a.cond != nil || b.cond != nil {
		return false
	}
	if !strings.EqualFold(a.root, b.root) || len(a.steps) != len(b.steps) || len(a.steps) == 0 {
		return false
	}
	for i := 0; i < len(a.steps)-1; i++ {
		if a.steps[i].Name != b.steps[i].Name || a.steps[i].Attr != b.steps[i].Attr {
			return false
		}
	}
	return true
}

// Labels recognised as the leading standard segment of a colon path.
var standardLabels = map[string]bool{
	"iso 19115":             true,
	"iso 19115-2":           true,
	"iso 19139":             true,
	"catalog web service":   true,
	"dublin core":           true,
	"ebrim v2.5":            true,
	"ebrim v3.0":            true,
	"iso 19110":             true,
	"feature catalogue":     true,
	"additional queryables": true,
}

// IsStandardLabel reports whether s is a known leading label.
func IsStandardLabel(s string) bool {
	return standardLabels[strings.ToLower(strings.TrimSpace(s))]
}

// Parse parses a path expression. Malformed paths are configuration errors.
func Parse(raw string) (*Expression, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, apperrors.Configf("empty path")
	}

	delim := ":"
	if strings.HasPrefix(text, "/") {
		delim = "/"
		text = strings.TrimPrefix(text, "/")
	}

	expr := &Expression{raw: raw}

	head, condText, hasCond := strings.Cut(text, "#")
	if hasCond && strings.Contains(condText, "#") {
		return nil, apperrors.Configf("path %q: more than one condition", raw)
	}

	segments := splitSegments(head, delim)
	if delim == ":" && len(segments) > 1 && IsStandardLabel(segments[0]) {
		expr.standard = strings.TrimSpace(segments[0])
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" {
		return nil, apperrors.Configf("path %q: missing root type", raw)
	}
	expr.root = localName(segments[0])

	steps, err := parseSteps(raw, segments[1:])
	if err != nil {
		return nil, err
	}
	expr.steps = steps

	if hasCond {
		if len(expr.steps) == 0 {
			return nil, apperrors.Configf("path %q: condition needs a preceding element", raw)
		}
		cond, err := parseCondition(raw, condText, delim)
		if err != nil {
			return nil, err
		}
		expr.cond = cond
	}
	return expr, nil
}

// MustParse is Parse for built-in paths; it panics on error.
func MustParse(raw string) *Expression {
	e, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return e
}

func parseCondition(raw, text, delim string) (*Condition, error) {
	attr, rest, ok := strings.Cut(text, "=")
	if !ok {
		return nil, apperrors.Configf("path %q: condition without '='", raw)
	}
	literal, suffix, ok := strings.Cut(rest, delim)
	if !ok {
		return nil, apperrors.Configf("path %q: condition without %q after the literal", raw, delim)
	}
	attrSteps, err := parseSteps(raw, []string{attr})
	if err != nil {
		return nil, err
	}
	suffixSteps, err := parseSteps(raw, splitSegments(suffix, delim))
	if err != nil {
		return nil, err
	}
	if len(suffixSteps) == 0 {
		return nil, apperrors.Configf("path %q: empty condition suffix", raw)
	}
	return &Condition{
		Attribute: attrSteps[0],
		Literal:   strings.TrimSpace(literal),
		Suffix:    suffixSteps,
	}, nil
}

// splitSegments splits on delim. Slash paths keep namespace prefixes inside
// segments; localName strips them later.
func splitSegments(s, delim string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, delim)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSteps(raw string, segments []string) ([]Step, error) {
	steps := make([]Step, 0, len(segments))
	for _, seg := range segments {
		step := Step{Ordinal: NoOrdinal}
		if open := strings.IndexByte(seg, '['); open >= 0 {
			if !strings.HasSuffix(seg, "]") {
				return nil, apperrors.Configf("path %q: unterminated ordinal in %q", raw, seg)
			}
			n, err := strconv.Atoi(seg[open+1 : len(seg)-1])
			if err != nil || n < 0 {
				return nil, apperrors.Configf("path %q: bad ordinal in %q", raw, seg)
			}
			step.Ordinal = n
			seg = seg[:open]
		}
		if strings.HasPrefix(seg, "@") {
			step.Attr = true
			seg = seg[1:]
		}
		step.Name = localName(seg)
		if step.Name == "" {
			return nil, apperrors.Configf("path %q: empty segment", raw)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func localName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}
