package veocontent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/template"
)

func writeContentFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestFullWalk_SingleRecordMinimumMetadata(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "VEOContent.xml")
	b, err := Start(manifestPath, "3.0", digest.SHA256)
	require.NoError(t, err)
	assert.Equal(t, NotStarted, b.State())

	require.NoError(t, b.StartIO("Record", 0))
	assert.Equal(t, FirstIOStg, b.State())

	require.NoError(t, b.StartMP("schema-uri", "syntax-uri", ""))
	assert.Equal(t, InMP, b.State())

	tpl, err := template.Parse("schema-uri\tsyntax-uri\n<Title>$$column 1$$</Title>", nil)
	require.NoError(t, err)
	require.NoError(t, b.AppendTemplate(tpl, []string{"my title"}, time.Now()))
	require.NoError(t, b.FinishMP())
	assert.Equal(t, FirstIOStg, b.State())

	require.NoError(t, b.StartIP(""))
	assert.Equal(t, FirstIPStg, b.State())

	contentFile := writeContentFile(t, dir, "record.txt", []byte("hello"))
	require.NoError(t, b.AddContentFile("testVEO/record.txt", contentFile))
	assert.Equal(t, SecondIPStg, b.State())

	require.NoError(t, b.FinishIP())
	assert.Equal(t, SecondIOStg, b.State())

	require.NoError(t, b.FinishIO())
	assert.Equal(t, FinishedIO, b.State())

	require.NoError(t, b.Close())
	assert.Equal(t, Closed, b.State())

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "<Title>my title</Title>")
	assert.Contains(t, out, "<vers:PathName>testVEO/record.txt</vers:PathName>")
}

func TestFinishIO_FromFirstIOStg_IsLegal(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.StartIO("Record", 0))
	assert.NoError(t, b.FinishIO())
}

func TestFinishIP_FromFirstIPStg_IsIllegal(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.StartIO("Record", 0))
	require.NoError(t, b.StartIP(""))

	err = b.FinishIP()
	assert.Error(t, err)
}

func TestStartMP_RejectsEmptySchemaOrSyntax(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.StartIO("Record", 0))

	assert.Error(t, b.StartMP("", "syntax", ""))
}

func TestStartIO_RejectsNegativeDepth(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	assert.Error(t, b.StartIO("Record", -1))
}

func TestAddContentFile_RejectsAbsoluteOrDotSegments(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.StartIO("Record", 0))
	require.NoError(t, b.StartIP(""))

	contentFile := writeContentFile(t, dir, "record.txt", []byte("hello"))
	assert.Error(t, b.AddContentFile("/abs/record.txt", contentFile))
	assert.Error(t, b.AddContentFile("testVEO/../record.txt", contentFile))
	assert.Error(t, b.AddContentFile("onlyonesegment", contentFile))
}

func TestRDFMetadataPackage_WrapsRDFEnvelope(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "VEOContent.xml")
	b, err := Start(manifestPath, "3.0", digest.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.StartIO("Record", 0))
	require.NoError(t, b.StartMP("schema", RDFSyntaxURI, "urn:resource:1"))
	require.NoError(t, b.AppendLiteral("<dc:title>x</dc:title>"))
	require.NoError(t, b.FinishMP())
	require.NoError(t, b.Abandon())

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `<rdf:Description rdf:about="urn:resource:1">`)
	assert.Contains(t, out, "</rdf:RDF>")
}

func TestClose_OnlyLegalFromFinishedIO(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	assert.Error(t, b.Close())
}

func TestAbandon_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	b, err := Start(filepath.Join(dir, "VEOContent.xml"), "3.0", digest.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.Abandon())
	assert.NoError(t, b.Abandon())
}
