package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The Rivers of Europe, 2nd edition")
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
		assert.Equal(t, i, tok.Position)
	}
	assert.Equal(t, []string{"riv", "europe", "2nd", "edit"}, terms)
}

func TestSingularAndPluralShareATerm(t *testing.T) {
	for _, pair := range [][2]string{
		{"river", "rivers"},
		{"survey", "surveys"},
		{"map", "maps"},
		{"water", "waters"},
	} {
		assert.Equal(t, Terms(pair[0]), Terms(pair[1]), pair[0])
	}
}

func TestTermsDistinct(t *testing.T) {
	assert.Equal(t, []string{"land", "cov"}, Terms("land cover, LAND"))
	assert.Empty(t, Terms("a of the"))
	assert.Equal(t, []string{"4326"}, Terms("EPSG 4326")[1:])
}

func TestDigitsAreNotStemmed(t *testing.T) {
	assert.Equal(t, []string{"2000"}, Terms("2000"))
	assert.Equal(t, []string{"5"}, Terms("5"))
}
