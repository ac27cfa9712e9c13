package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/path"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/dublincore"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/ebrim"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/iso"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/xmlnode"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "testdata", name))
	require.NoError(t, err)
	return data
}

func TestDecodeTypedPicksModel(t *testing.T) {
	tests := []struct {
		file string
		std  metadata.Standard
		want any
	}{
		{"iso19139.xml", metadata.ISO19139, &iso.Metadata{}},
		{"dublincore.xml", metadata.DublinCore, &dublincore.Record{}},
		{"ebrim25.xml", metadata.Ebrim25, &ebrim.Object{}},
		{"ebrim30.xml", metadata.Ebrim30, &ebrim.Object{}},
		{"featurecatalogue.xml", metadata.FeatureCatalogue, &xmlnode.Element{}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			rec, err := Decode(fixture(t, tt.file), ModeTyped)
			require.NoError(t, err)
			assert.IsType(t, tt.want, rec)
			std, ok := metadata.Detect(rec)
			assert.True(t, ok)
			assert.Equal(t, tt.std, std)
		})
	}
}

func TestDecodeNodeModeAlwaysUsesElementTree(t *testing.T) {
	rec, err := Decode(fixture(t, "iso19139.xml"), ModeNode)
	require.NoError(t, err)
	assert.IsType(t, &xmlnode.Element{}, rec)
}

func TestDecodeUnknownRoot(t *testing.T) {
	rec, err := Decode(fixture(t, "unknown.xml"), ModeTyped)
	require.NoError(t, err)
	_, ok := metadata.Detect(rec)
	assert.False(t, ok)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not xml at all"), ModeTyped)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMetadataIO))
	assert.Equal(t, apperrors.KindRecord, apperrors.KindOf(err))
}

// Typed and element-tree records must answer the same paths identically.
func TestTypedAndNodeModesAgree(t *testing.T) {
	paths := map[string][]string{
		"iso19139.xml": {
			"ISO 19115:MD_Metadata:fileIdentifier",
			"ISO 19115:MD_Metadata:language",
			"ISO 19115:MD_Metadata:hierarchyLevel",
			"ISO 19115:MD_Metadata:dateStamp",
			"ISO 19115:MD_Metadata:identificationInfo:citation:title",
			"ISO 19115:MD_Metadata:identificationInfo:citation:date#dateType=revision:date",
			"ISO 19115:MD_Metadata:identificationInfo:descriptiveKeywords:keyword",
			"ISO 19115:MD_Metadata:identificationInfo:descriptiveKeywords:keyword[1]",
			"ISO 19115:MD_Metadata:identificationInfo:extent:geographicElement:westBoundLongitude",
			"ISO 19115:MD_Metadata:identificationInfo:extent:temporalElement:extent:endPosition",
			"ISO 19115:MD_Metadata:identificationInfo:topicCategory",
			"ISO 19115:MD_Metadata:identificationInfo:pointOfContact:organisationName",
			"ISO 19115:MD_Metadata:identificationInfo:spatialResolution:equivalentScale:denominator",
			"ISO 19115:MD_Metadata:referenceSystemInfo:referenceSystemIdentifier:code",
			"ISO 19115:MD_Metadata:distributionInfo:distributionFormat:name",
			"ISO 19115:MD_Metadata:distributionInfo:transferOptions:onLine:linkage",
		},
		"dublincore.xml": {
			"Catalog Web Service:Record:identifier",
			"Catalog Web Service:Record:subject",
			"Catalog Web Service:Record:modified",
			"Catalog Web Service:Record:BoundingBox:LowerCorner[0]",
			"Catalog Web Service:Record:BoundingBox:UpperCorner[1]",
			"Catalog Web Service:Record:BoundingBox:crs",
		},
		"ebrim25.xml": {
			"Ebrim v2.5:ExtrinsicObject:id",
			"Ebrim v2.5:ExtrinsicObject:Name:LocalizedString:value",
			"Ebrim v2.5:ExtrinsicObject:Slot#name=modified:ValueList:Value",
		},
		"ebrim30.xml": {
			"Ebrim v3.0:RegistryPackage:lid",
			"Ebrim v3.0:RegistryPackage:Name:LocalizedString:value",
			"Ebrim v3.0:RegistryPackage:Slot#name=subject:ValueList:Value",
		},
	}
	for file, exprs := range paths {
		typed, err := Decode(fixture(t, file), ModeTyped)
		require.NoError(t, err)
		node, err := Decode(fixture(t, file), ModeNode)
		require.NoError(t, err)
		for _, raw := range exprs {
			t.Run(file+"/"+raw, func(t *testing.T) {
				expr := path.MustParse(raw)
				want := render(t, path.Resolve(expr, node))
				require.NotEmpty(t, want)
				assert.Equal(t, want, render(t, path.Resolve(expr, typed)))
			})
		}
	}
}

func TestFSReader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xml"), fixture(t, "dublincore.xml"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), fixture(t, "iso19139.xml"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.xml"), 0o755))

	r := NewFSReader(dir, ModeTyped, map[string][]string{"Extra": {"MD_Metadata:fileIdentifier"}})
	ctx := context.Background()

	ids, err := r.AllIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	it, err := r.Identifiers(ctx)
	require.NoError(t, err)
	var streamed []string
	for it.Next() {
		streamed = append(streamed, it.Identifier())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	assert.ElementsMatch(t, ids, streamed)

	rec, err := r.Entry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "MD_Metadata", rec.TypeName().Local)

	_, err = r.Entry(ctx, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrRecordNotFound))

	_, err = r.Entry(ctx, "../etc/passwd")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))

	assert.Contains(t, r.AdditionalQueryables(), "Extra")
}

func TestSQLiteReader(t *testing.T) {
	ctx := context.Background()
	r, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "records.db"), "records", ModeTyped, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	require.NoError(t, r.PutAll(ctx, map[string][]byte{
		"iso-1": fixture(t, "iso19139.xml"),
		"dc-1":  fixture(t, "dublincore.xml"),
	}))
	require.NoError(t, r.Put(ctx, "dc-1", fixture(t, "dublincore.xml")))

	ids, err := r.AllIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dc-1", "iso-1"}, ids)

	rec, err := r.Entry(ctx, "dc-1")
	require.NoError(t, err)
	std, _ := metadata.Detect(rec)
	assert.Equal(t, metadata.DublinCore, std)

	require.NoError(t, r.Delete(ctx, "dc-1"))
	_, err = r.Entry(ctx, "dc-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrRecordNotFound))
	require.NoError(t, r.Ping(ctx))
}

func TestSQLReaderRejectsBadTable(t *testing.T) {
	_, err := NewSQLReader(nil, Postgres, "records; DROP TABLE x", ModeTyped, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfiguration))
	assert.Equal(t, "$2", Postgres.placeholder(2))
	assert.Equal(t, "?", SQLite.placeholder(2))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("NODE")
	require.NoError(t, err)
	assert.Equal(t, ModeNode, m)
	_, err = ParseMode("dom")
	assert.Error(t, err)
}

func render(t *testing.T, vals []value.Value) []string {
	t.Helper()
	var out []string
	for _, v := range vals {
		terms, err := value.Normalize(v, value.HintText)
		require.NoError(t, err)
		for _, term := range terms {
			out = append(out, term.Text)
		}
	}
	return out
}
