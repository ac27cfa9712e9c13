package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		terms   []Term
		exclude []Term
		typ     QueryType
	}{
		{
			name:  "bare terms use the default field",
			query: "rivers europe",
			terms: []Term{{"AnyText", "rivers"}, {"AnyText", "europe"}},
		},
		{
			name:  "field prefix",
			query: "Title:rivers Language:eng",
			terms: []Term{{"Title", "rivers"}, {"Language", "eng"}},
		},
		{
			name:  "colon after field stays in the term",
			query: "CRS:EPSG:4326",
			terms: []Term{{"CRS", "EPSG:4326"}},
		},
		{
			name:  "quoted phrase",
			query: `Title:"rivers of europe"`,
			terms: []Term{{"Title", "rivers of europe"}},
		},
		{
			name:  "quoted identifier is not a field",
			query: `"urn:uuid:eb25-1"`,
			terms: []Term{{"AnyText", "urn:uuid:eb25-1"}},
		},
		{
			name:  "or",
			query: "rivers OR lakes",
			terms: []Term{{"AnyText", "rivers"}, {"AnyText", "lakes"}},
			typ:   QueryOR,
		},
		{
			name:    "not and minus exclude",
			query:   "europe NOT rivers -Type:service",
			terms:   []Term{{"AnyText", "europe"}},
			exclude: []Term{{"AnyText", "rivers"}, {"Type", "service"}},
		},
		{
			name:  "hyphen inside a term",
			query: "Modified:2005-01-01",
			terms: []Term{{"Modified", "2005-01-01"}},
		},
		{
			name:  "quoted operator is a term",
			query: `"and"`,
			terms: []Term{{"AnyText", "and"}},
		},
		{
			name:  "empty field value is dropped",
			query: `Title: ""`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Parse(tt.query, "AnyText")
			terms := tt.terms
			if terms == nil {
				terms = []Term{}
			}
			exclude := tt.exclude
			if exclude == nil {
				exclude = []Term{}
			}
			assert.Equal(t, terms, plan.Terms)
			assert.Equal(t, exclude, plan.ExcludeTerms)
			assert.Equal(t, tt.typ, plan.Type)
			assert.Equal(t, tt.query, plan.RawQuery)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	assert.True(t, Parse("   ", "AnyText").Empty())
	assert.True(t, Parse("AND OR NOT", "AnyText").Empty())
	assert.Equal(t, "OR", QueryOR.String())
}

func BenchmarkParse(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Parse(`Title:"rivers of europe" OR AnyText:lakes -Type:service CRS:EPSG:4326`, "AnyText")
	}
}
