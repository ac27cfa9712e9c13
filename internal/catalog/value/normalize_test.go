package value

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

type composite struct{}

func (composite) Resolve(string) []Value { return nil }

type wrapper struct{ inner Value }

func (w wrapper) Resolve(string) []Value { return nil }
func (w wrapper) Leaf() (Value, bool)    { return w.inner, true }

func texts(t *testing.T, v Value, hint Hint) []string {
	t.Helper()
	terms, err := Normalize(v, hint)
	require.NoError(t, err)
	out := make([]string, len(terms))
	for i, term := range terms {
		out[i] = term.Text
	}
	return out
}

func TestCanonicalDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2005-01-01Z", "20050101000000"},
		{"20050101000000", "20050101000000"},
		{"2005-01-01", "20050101000000"},
		{"2005-01-01T10:20:30Z", "20050101102030"},
		{"2005-01-01T10:20:30.123z", "20050101102030"},
		{"2005-01-01T10:20", "20050101102000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalDate(tt.in))
			assert.Equal(t, tt.want, CanonicalDate(CanonicalDate(tt.in)))
		})
	}
}

func TestNormalizeScalars(t *testing.T) {
	day := time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{"20050101000000"}, texts(t, Date(day), HintText))
	assert.Equal(t, []string{"20050101000000"}, texts(t, Text("2005-01-01Z"), HintDate))
	assert.Equal(t, []string{"true"}, texts(t, Bool(true), HintText))
	assert.Equal(t, []string{"42"}, texts(t, Int(42), HintNumeric))
	assert.Equal(t, []string{"-12.5"}, texts(t, Float(-12.5), HintNumeric))
	assert.Equal(t, []string{"123456789012345678901234567890"},
		texts(t, BigInt(bigFromString("123456789012345678901234567890")), HintNumeric))
	assert.Equal(t, []string{"0.125"}, texts(t, Decimal(big.NewFloat(0.125)), HintNumeric))
}

func bigFromString(s string) *big.Int {
	i, _ := new(big.Int).SetString(s, 10)
	return i
}

func TestNormalizeKeepsNumbers(t *testing.T) {
	terms, err := Normalize(Float(45.25), HintNumeric)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.True(t, terms[0].Numeric)
	assert.Equal(t, 45.25, terms[0].Number)

	terms, err = Normalize(Text(" 10 "), HintNumeric)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.True(t, terms[0].Numeric)
	assert.Equal(t, "10", terms[0].Text)
}

func TestNormalizeCodes(t *testing.T) {
	topic := CodeOf(Code{List: "http://example.org/codelists.xml#MD_ScopeCode", Value: "dataset", Label: "Dataset"})
	assert.Equal(t, []string{"Dataset"}, texts(t, topic, HintText))

	lang := CodeOf(Code{List: "http://www.loc.gov/standards/iso639-2/#LanguageCode", Value: "eng", Label: "English"})
	assert.Equal(t, []string{"eng"}, texts(t, lang, HintText))

	bare := CodeOf(Code{List: "MD_ScopeCode", Value: "series"})
	assert.Equal(t, []string{"series"}, texts(t, bare, HintText))
}

func TestNormalizeLocalized(t *testing.T) {
	assert.Equal(t, []string{"Rivers"}, texts(t, LocalizedOf(Localized{Default: "Rivers", Translations: map[string]string{"fre": "Rivières"}}), HintText))
	assert.Equal(t, []string{"Flüsse"}, texts(t, LocalizedOf(Localized{Translations: map[string]string{"ger": "Flüsse", "ita": "Fiumi"}}), HintText))
}

func TestNormalizeAbsentValuesProduceNoTerms(t *testing.T) {
	assert.Empty(t, texts(t, None(), HintText))
	assert.Empty(t, texts(t, Text("   "), HintText))
	assert.Empty(t, texts(t, List(), HintText))
	assert.Empty(t, texts(t, LocalizedOf(Localized{}), HintText))
}

func TestNormalizeFlattensCollections(t *testing.T) {
	v := List(Text("a"), List(Text("b"), None(), Text("c")), NodeOf(wrapper{Text("d")}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, texts(t, v, HintText))
}

func TestNormalizePosition(t *testing.T) {
	assert.Equal(t, []string{"-10 4.5"}, texts(t, PositionOf(Position{Coordinates: []float64{-10, 4.5}}), HintText))
}

func TestNormalizeCompositeIsUnsupported(t *testing.T) {
	_, err := Normalize(NodeOf(composite{}), HintText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUnsupportedValue))
	assert.Equal(t, apperrors.KindField, apperrors.KindOf(err))
}

func TestParseHint(t *testing.T) {
	h, err := ParseHint("Date")
	require.NoError(t, err)
	assert.Equal(t, HintDate, h)

	_, err = ParseHint("geometry")
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}
