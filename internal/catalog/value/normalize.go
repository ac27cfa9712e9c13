package value

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

// NoValue is stored in the sort field of a queryable with no extracted value
// so that absent fields sort together. It is never indexed as a term.
const NoValue = "null"

// Hint is the declared type of a queryable field.
type Hint int

const (
	HintText Hint = iota
	HintDate
	HintNumeric
	HintBoolean
)

func (h Hint) String() string {
	switch h {
	case HintDate:
		return "date"
	case HintNumeric:
		return "numeric"
	case HintBoolean:
		return "boolean"
	default:
		return "text"
	}
}

// ParseHint maps a configuration type name onto a Hint.
func ParseHint(s string) (Hint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "string":
		return HintText, nil
	case "date", "datetime":
		return HintDate, nil
	case "numeric", "number", "integer", "double":
		return HintNumeric, nil
	case "boolean", "bool":
		return HintBoolean, nil
	}
	return HintText, apperrors.Configf("unknown field type %q", s)
}

// Term is one canonical value ready for indexing. Numeric terms keep their
// number alongside the exact text form.
type Term struct {
	Text    string
	Number  float64
	Numeric bool
}

// dateLayout is the canonical yyyyMMddHHmmss form of every indexed date.
const dateLayout = "20060102150405"

// Normalize converts a raw value into zero or more canonical terms. None and
// blank text produce no term. Collections are flattened in order.
func Normalize(v Value, hint Hint) ([]Term, error) {
	v = Unwrap(v)
	switch v.kind {
	case KindNone:
		return nil, nil
	case KindList:
		var out []Term
		for _, item := range v.list {
			terms, err := Normalize(item, hint)
			if err != nil {
				return nil, err
			}
			out = append(out, terms...)
		}
		return out, nil
	case KindText:
		return normalizeText(v.text, hint), nil
	case KindInteger:
		return []Term{{Text: strconv.FormatInt(v.i, 10), Number: float64(v.i), Numeric: true}}, nil
	case KindBigInteger:
		f, _ := new(big.Float).SetInt(v.bigInt).Float64()
		return []Term{{Text: v.bigInt.String(), Number: f, Numeric: true}}, nil
	case KindFloat:
		return []Term{{Text: FormatNumber(v.f), Number: v.f, Numeric: true}}, nil
	case KindDecimal:
		f, _ := v.decimal.Float64()
		return []Term{{Text: v.decimal.Text('f', -1), Number: f, Numeric: true}}, nil
	case KindBoolean:
		return []Term{{Text: strconv.FormatBool(v.b)}}, nil
	case KindDate:
		return []Term{{Text: v.t.Format(dateLayout)}}, nil
	case KindCode:
		return textTerm(codeText(v.code)), nil
	case KindLocalized:
		return textTerm(localizedText(v.loc)), nil
	case KindPosition:
		return textTerm(positionText(v.pos)), nil
	case KindNode:
		return nil, apperrors.Newf(apperrors.ErrUnsupportedValue, apperrors.KindField,
			"path ends on a composite element (%T)", v.node)
	}
	return nil, apperrors.Newf(apperrors.ErrUnsupportedValue, apperrors.KindField, "value kind %s", v.kind)
}

func normalizeText(s string, hint Hint) []Term {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	switch hint {
	case HintDate:
		return []Term{{Text: CanonicalDate(s)}}
	case HintNumeric:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return []Term{{Text: s, Number: f, Numeric: true}}
		}
	case HintBoolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return []Term{{Text: strconv.FormatBool(b)}}
		}
	}
	return []Term{{Text: s}}
}

// FormatNumber renders f in plain decimal notation with no trailing zeros.
func FormatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func textTerm(s string) []Term {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []Term{{Text: s}}
}

// CanonicalDate rewrites an ISO 8601 date or date-time into yyyyMMddHHmmss.
// A trailing UTC designator is dropped and date-only input is padded with a
// zero time of day. Already canonical input is returned unchanged.
func CanonicalDate(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "Z"), "z")
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	s = strings.NewReplacer("-", "", ":", "", "T", "", " ", "").Replace(s)
	switch len(s) {
	case 8:
		return s + "000000"
	case 10:
		return s + "0000"
	case 12:
		return s + "00"
	}
	return s
}

// codeText is the label of a code, or its raw value for locale lists where
// the value already is a language code.
func codeText(c Code) string {
	if isLocaleList(c.List) || c.Label == "" {
		return c.Value
	}
	return c.Label
}

var localeLists = map[string]bool{
	"languagecode": true,
	"countrycode":  true,
	"locale":       true,
}

func isLocaleList(list string) bool {
	if i := strings.LastIndexAny(list, "#/"); i >= 0 {
		list = list[i+1:]
	}
	return localeLists[strings.ToLower(list)]
}

func localizedText(l Localized) string {
	if strings.TrimSpace(l.Default) != "" {
		return l.Default
	}
	locales := make([]string, 0, len(l.Translations))
	for k := range l.Translations {
		locales = append(locales, k)
	}
	sort.Strings(locales)
	for _, k := range locales {
		if s := strings.TrimSpace(l.Translations[k]); s != "" {
			return s
		}
	}
	return ""
}

func positionText(p Position) string {
	parts := make([]string, len(p.Coordinates))
	for i, c := range p.Coordinates {
		parts[i] = strconv.FormatFloat(c, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

// String renders v for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNode:
		return fmt.Sprintf("node(%T)", v.node)
	case KindList:
		return fmt.Sprintf("list(%d)", len(v.list))
	}
	terms, err := Normalize(v, HintText)
	if err != nil || len(terms) == 0 {
		return v.kind.String()
	}
	return terms[0].Text
}
