package queryable

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

func TestDefaultSet(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	for _, std := range metadata.Standards {
		assert.NotZero(t, set.For(std).Len(), std.String())
		assert.NotEmpty(t, set.Identifiers(std), std.String())
	}

	title, ok := set.Baseline().Lookup("Title")
	require.True(t, ok)
	assert.Equal(t, value.HintText, title.Type)
	assert.Greater(t, len(title.Paths), 1)

	rev, ok := set.For(metadata.ISO19139).Lookup("RevisionDate")
	require.True(t, ok)
	assert.Equal(t, value.HintDate, rev.Type)
	assert.Equal(t, metadata.ISO19139, rev.Paths[0].Standard)
	assert.NotNil(t, rev.Paths[0].Expr.Condition())

	west, ok := set.Baseline().Lookup(WestBoundLongitude)
	require.True(t, ok)
	assert.Equal(t, value.HintNumeric, west.Type)
}

func TestDefaultSetFieldOrderIsDeclarationOrder(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)
	fields := set.Baseline().Fields()
	require.NotEmpty(t, fields)
	assert.Equal(t, "Identifier", fields[0].Name)
	assert.Equal(t, "Title", fields[1].Name)

	names := set.Names()
	assert.Equal(t, "Identifier", names[0])
	seen := map[string]int{}
	for _, n := range names {
		seen[n]++
	}
	assert.Equal(t, 1, seen["ObjectType"])
}

func TestPathAppliesTo(t *testing.T) {
	p := Path{Standard: metadata.ISO19139}
	assert.True(t, p.AppliesTo(metadata.ISO19139))
	assert.False(t, p.AppliesTo(metadata.DublinCore))
	assert.True(t, Path{}.AppliesTo(metadata.Ebrim30))
}

func TestNewMapValidation(t *testing.T) {
	tests := []struct {
		name  string
		specs []FieldSpec
	}{
		{"missing name", []FieldSpec{{Paths: []string{"Record:title"}}}},
		{"duplicate", []FieldSpec{
			{Name: "Title", Paths: []string{"Record:title"}},
			{Name: "Title", Paths: []string{"Record:title"}},
		}},
		{"reserved", []FieldSpec{{Name: "AnyText", Paths: []string{"Record:title"}}}},
		{"sort suffix", []FieldSpec{{Name: "Title_sort", Paths: []string{"Record:title"}}}},
		{"no paths", []FieldSpec{{Name: "Title"}}},
		{"bad type", []FieldSpec{{Name: "Title", Type: "geometry", Paths: []string{"Record:title"}}}},
		{"bad condition", []FieldSpec{{Name: "Date", Paths: []string{"MD_Metadata:date#dateType"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMap(tt.specs)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfiguration))
		})
	}
}

func TestAdditional(t *testing.T) {
	m, err := Additional(map[string][]string{
		"Zeta":  {"MD_Metadata:fileIdentifier"},
		"Alpha": {"Record:title", "Record:abstract"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	assert.Equal(t, "Alpha", m.Fields()[0].Name)
	assert.Len(t, m.Fields()[0].Paths, 2)
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
identifiers:
  dublincore: ["Record:identifier"]
standards:
  dublincore:
    - name: Title
      paths: ["Record:title"]
`), 0o644))
	set, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Baseline().Len())
	assert.Nil(t, set.For(metadata.ISO19139))
}

func TestParseErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown standard": "standards:\n  marc21:\n    - name: Title\n      paths: [\"x:y\"]\n",
		"no baseline":      "standards:\n  iso19115:\n    - name: Title\n      paths: [\"MD_Metadata:title\"]\n",
		"bad yaml":         "standards: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.Error(t, err)
			assert.Equal(t, apperrors.KindConfiguration, apperrors.KindOf(err))
		})
	}
}
