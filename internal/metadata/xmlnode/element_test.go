package xmlnode

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/path"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
)

func load(t *testing.T, name string) *Element {
	t.Helper()
	data, err := os.ReadFile("../testdata/" + name)
	require.NoError(t, err)
	root, err := Parse(data)
	require.NoError(t, err)
	return root
}

func resolve(t *testing.T, root *Element, raw string, hint value.Hint) []string {
	t.Helper()
	var out []string
	for _, v := range path.Resolve(path.MustParse(raw), root) {
		terms, err := value.Normalize(v, hint)
		require.NoError(t, err)
		for _, term := range terms {
			out = append(out, term.Text)
		}
	}
	return out
}

func TestParseKeepsNamespaces(t *testing.T) {
	root := load(t, "iso19139.xml")
	assert.Equal(t, "MD_Metadata", root.TypeName().Local)
	assert.Equal(t, "http://www.isotc211.org/2005/gmd", root.TypeName().Space)
	for _, a := range root.Attrs {
		assert.NotEqual(t, "xmlns", a.Name.Space)
	}
}

func TestResolveISOProperties(t *testing.T) {
	root := load(t, "iso19139.xml")

	assert.Equal(t, []string{"abc-123"}, resolve(t, root, "ISO 19115:MD_Metadata:fileIdentifier", value.HintText))
	assert.Equal(t, []string{"Rivers of Europe"},
		resolve(t, root, "ISO 19115:MD_Metadata:identificationInfo:citation:title", value.HintText))
	assert.Equal(t, []string{"Rivers of Europe"},
		resolve(t, root, "/gmd:MD_Metadata/gmd:identificationInfo/gmd:citation/gmd:title", value.HintText))
	assert.Equal(t, []string{"eng"}, resolve(t, root, "MD_Metadata:language", value.HintText))
	assert.Equal(t, []string{"Dataset"}, resolve(t, root, "MD_Metadata:hierarchyLevel", value.HintText))
	assert.Equal(t, []string{"inlandWaters"}, resolve(t, root, "MD_Metadata:identificationInfo:topicCategory", value.HintText))
	assert.Equal(t, []string{"20060304050607"}, resolve(t, root, "MD_Metadata:dateStamp", value.HintDate))
	assert.Equal(t, []string{"250000"},
		resolve(t, root, "MD_Metadata:identificationInfo:spatialResolution:equivalentScale:denominator", value.HintNumeric))
	assert.Equal(t, []string{"19900101000000"},
		resolve(t, root, "MD_Metadata:identificationInfo:extent:temporalElement:extent:beginPosition", value.HintDate))
}

func TestResolveISOConditionalDate(t *testing.T) {
	root := load(t, "iso19139.xml")
	assert.Equal(t, []string{"20050101000000"},
		resolve(t, root, "ISO 19115:MD_Metadata:identificationInfo:citation:date#dateType=revision:date", value.HintDate))
	assert.Equal(t, []string{"20010203000000"},
		resolve(t, root, "ISO 19115:MD_Metadata:identificationInfo:citation:date#dateType=Creation:date", value.HintDate))
}

func TestResolveRepeatedKeywords(t *testing.T) {
	root := load(t, "iso19139.xml")
	assert.Equal(t, []string{"water", "river", "hydrology"},
		resolve(t, root, "MD_Metadata:identificationInfo:descriptiveKeywords:keyword", value.HintText))
	assert.Equal(t, []string{"river"},
		resolve(t, root, "MD_Metadata:identificationInfo:descriptiveKeywords:keyword[1]", value.HintText))
}

func TestResolveCoordinatesAndAttributes(t *testing.T) {
	root := load(t, "dublincore.xml")
	assert.Equal(t, []string{"-5"}, resolve(t, root, "Record:BoundingBox:LowerCorner[0]", value.HintNumeric))
	assert.Equal(t, []string{"51.5"}, resolve(t, root, "Record:BoundingBox:UpperCorner[1]", value.HintNumeric))
	assert.Equal(t, []string{"EPSG:4326"}, resolve(t, root, "Record:BoundingBox:crs", value.HintText))
	assert.Equal(t, []string{"EPSG:4326"}, resolve(t, root, "Record:BoundingBox:@crs", value.HintText))
	assert.Empty(t, resolve(t, root, "Record:BoundingBox:LowerCorner[2]", value.HintNumeric))
}

func TestResolveEbrimSlots(t *testing.T) {
	root := load(t, "ebrim25.xml")
	assert.Equal(t, []string{"urn:uuid:eb25-1"}, resolve(t, root, "Ebrim v2.5:ExtrinsicObject:id", value.HintText))
	assert.Equal(t, []string{"Land cover 2000"},
		resolve(t, root, "Ebrim v2.5:ExtrinsicObject:Name:LocalizedString:value", value.HintText))
	assert.Equal(t, []string{"land cover", "classification"},
		resolve(t, root, "Ebrim v2.5:ExtrinsicObject:Slot#name=subject:ValueList:Value", value.HintText))
}

func TestLocalizedFreeText(t *testing.T) {
	doc := `<title xmlns:gco="http://www.isotc211.org/2005/gco" xmlns:gmd="http://www.isotc211.org/2005/gmd">
	<gco:CharacterString>Rivers</gco:CharacterString>
	<gmd:PT_FreeText><gmd:textGroup>
		<gmd:LocalisedCharacterString locale="#FR">Rivières</gmd:LocalisedCharacterString>
	</gmd:textGroup></gmd:PT_FreeText>
</title>`
	root, err := Parse([]byte(doc))
	require.NoError(t, err)
	v, ok := root.Leaf()
	require.True(t, ok)
	loc, ok := v.Localized()
	require.True(t, ok)
	assert.Equal(t, "Rivers", loc.Default)
	assert.Equal(t, "Rivières", loc.Translations["FR"])
}

func TestCompositeLeafIsRejected(t *testing.T) {
	root := load(t, "iso19139.xml")
	vals := path.Resolve(path.MustParse("MD_Metadata:identificationInfo:citation"), root)
	require.Len(t, vals, 1)
	_, err := value.Normalize(vals[0], value.HintText)
	assert.Error(t, err)
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, err := Parse([]byte("   "))
	assert.Error(t, err)
}
