package veo

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vers-project/veobuilder/digest"
	"github.com/vers-project/veobuilder/errcode"
	"github.com/vers-project/veobuilder/signer"
	"github.com/vers-project/veobuilder/template"
)

func testIdentity(t *testing.T) *signer.Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "veo-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	id, err := signer.FromRSA(key, "CN=veo-test", [][]byte{der})
	require.NoError(t, err)
	return id
}

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func setupAssembler(t *testing.T) (*Assembler, string) {
	t.Helper()
	workDir := t.TempDir()
	templateDir := t.TempDir()
	writeTempFile(t, templateDir, readmeName, []byte("VERS readme\n"))

	a, err := Construct(workDir, "testVEO", templateDir, digest.SHA1, false, false, nil)
	require.NoError(t, err)
	return a, workDir
}

func TestConstruct_AppendsVeoSuffixAndStagesFiles(t *testing.T) {
	a, workDir := setupAssembler(t)
	assert.Equal(t, "testVEO.veo", a.Name())
	assert.Equal(t, filepath.Join(workDir, "testVEO.veo"), a.StagingDir())

	for _, f := range []string{readmeName, "VEOContent.xml", "VEOHistory.xml"} {
		_, err := os.Stat(filepath.Join(a.StagingDir(), f))
		assert.NoError(t, err, "expected %s to exist", f)
	}
}

func TestConstruct_RejectsUnsupportedHash(t *testing.T) {
	workDir := t.TempDir()
	_, err := Construct(workDir, "x", "", digest.Algorithm("MD5"), false, false, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEOHashUnsupported, errcode.CodeOf(err))
}

func TestConstruct_RejectsEmptyName(t *testing.T) {
	workDir := t.TempDir()
	_, err := Construct(workDir, "   ", "", digest.SHA1, false, false, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEONameNil, errcode.CodeOf(err))
}

// Scenario A from spec.md §8: single record, minimum metadata.
func TestScenarioA_SingleRecordMinimumMetadata(t *testing.T) {
	a, workDir := setupAssembler(t)

	require.NoError(t, a.AddInformationObject("Record", 1))

	tpl, err := template.Parse("http://agls/\thttp://agls/syntax\n<agls:Title>$$column 2$$</agls:Title>", nil)
	require.NoError(t, err)
	row := []string{"http://x/1", "Title", "Author", "Org"}
	require.NoError(t, a.AddMetadataPackageFromTemplate("http://agls/", "http://agls/syntax", "", tpl, row, time.Now()))

	require.NoError(t, a.AddInformationPiece("Label"))

	contentDir := t.TempDir()
	contentFile := writeTempFile(t, contentDir, "a.docx", []byte("abc"))
	require.NoError(t, a.AddContentFile("S-37-6/a.docx", contentFile))

	require.NoError(t, a.FinishFiles())
	assert.Equal(t, PhaseFinishedFiles, a.State())

	id := testIdentity(t)
	require.NoError(t, a.Sign(id, time.Now()))
	assert.Equal(t, PhaseSigned, a.State())

	outDir := filepath.Join(workDir, "out")
	zipPath, err := a.Finalise(outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "testVEO.veo.zip"), zipPath)

	_, err = os.Stat(zipPath)
	require.NoError(t, err)
	_, err = os.Stat(a.StagingDir())
	assert.True(t, os.IsNotExist(err), "staging dir should be removed after finalise without retain")
}

// Scenario B from spec.md §8: state-machine violation after sign.
func TestScenarioB_StateViolationAfterSign(t *testing.T) {
	a, _ := setupAssembler(t)
	require.NoError(t, a.AddInformationObject("Record", 0))
	require.NoError(t, a.FinishFiles())

	id := testIdentity(t)
	require.NoError(t, a.Sign(id, time.Now()))

	err := a.AddInformationObject("Record", 0)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEOIllegalTransition, errcode.CodeOf(err))
	_, ok := errcode.As(err)
	assert.True(t, ok)

	_, statErr := os.Stat(a.StagingDir())
	assert.NoError(t, statErr, "staging directory must still exist for the caller to abandon")
}

func TestRegisterContentRoot_RejectsDuplicateFinalSegment(t *testing.T) {
	a, _ := setupAssembler(t)

	rootA := filepath.Join(t.TempDir(), "docs")
	rootB := filepath.Join(t.TempDir(), "docs")
	require.NoError(t, os.MkdirAll(rootA, 0o755))
	require.NoError(t, os.MkdirAll(rootB, 0o755))

	require.NoError(t, a.RegisterContentRoot(rootA))
	err := a.RegisterContentRoot(rootB)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEODuplicateRoot, errcode.CodeOf(err))
}

func TestAddContentFile_RejectsDuplicateDestination(t *testing.T) {
	a, _ := setupAssembler(t)
	require.NoError(t, a.AddInformationObject("Record", 0))
	require.NoError(t, a.AddInformationPiece(""))

	contentDir := t.TempDir()
	f1 := writeTempFile(t, contentDir, "a.docx", []byte("abc"))
	require.NoError(t, a.AddContentFile("root/a.docx", f1))

	err := a.AddContentFile("root/a.docx", f1)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEODuplicateDestination, errcode.CodeOf(err))
}

func TestFinishIP_WithNoContentFiles_IsIllegal(t *testing.T) {
	a, _ := setupAssembler(t)
	require.NoError(t, a.AddInformationObject("Record", 0))
	require.NoError(t, a.AddInformationPiece(""))

	// The first piece has no content files, so it is not auto-closed;
	// starting a second piece from FIRST_IP_STG is rejected by the
	// content builder as an illegal transition.
	err := a.AddInformationPiece("")
	require.Error(t, err)
	assert.Equal(t, errcode.CodeContentIllegalTransition, errcode.CodeOf(err))
}

func TestAddEvent_RejectedAfterFinishFiles(t *testing.T) {
	a, _ := setupAssembler(t)
	require.NoError(t, a.AddInformationObject("Record", 0))
	require.NoError(t, a.FinishFiles())

	err := a.AddEvent(time.Now(), "type", "init", nil, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEOEventAfterFinish, errcode.CodeOf(err))
}

func TestAbandon_RemovesStagingDirUnlessDebug(t *testing.T) {
	a, _ := setupAssembler(t)
	require.NoError(t, a.AddInformationObject("Record", 0))
	stagingDir := a.StagingDir()

	require.NoError(t, a.Abandon())
	_, err := os.Stat(stagingDir)
	assert.True(t, os.IsNotExist(err))
}

func TestZipName_MatchesSourceQuirkExactly(t *testing.T) {
	assert.Equal(t, "testVEO.veo.zip", zipName("testVEO.veo"))
	assert.Equal(t, "other.veo.zip", zipName("other"))
}

func stageResignableVEO(t *testing.T, contentSigAge time.Duration) string {
	t.Helper()
	stagingDir := t.TempDir()

	contentPath := writeTempFile(t, stagingDir, "VEOContent.xml", []byte("<VEOContent/>"))
	now := time.Now()
	require.NoError(t, os.Chtimes(contentPath, now, now))

	sigPath := writeTempFile(t, stagingDir, "VEOContentSignature1.xml", []byte("<VEOContentSignature/>"))
	sigTime := now.Add(contentSigAge)
	require.NoError(t, os.Chtimes(sigPath, sigTime, sigTime))

	// History signatures must be removed unconditionally regardless of age,
	// so give one a timestamp newer than the content manifest.
	histPath := writeTempFile(t, stagingDir, "VEOHistorySignature1.xml", []byte("<VEOHistorySignature/>"))
	histTime := now.Add(time.Hour)
	require.NoError(t, os.Chtimes(histPath, histTime, histTime))

	writeTempFile(t, stagingDir, "Report1.html", []byte("<html/>"))
	writeTempFile(t, stagingDir, "index.html", []byte("<html/>"))
	writeTempFile(t, stagingDir, "ReportStyle.css", []byte("body{}"))

	return stagingDir
}

// Scenario E (spec.md §8): resigning a finished VEO drops any content
// signature older than the content manifest, drops every history
// signature unconditionally, and drops prior report artifacts.
func TestOpenResign_RemovesStaleContentSignatureAndAllHistorySignatures(t *testing.T) {
	stagingDir := stageResignableVEO(t, -time.Hour)

	a, err := OpenResign(stagingDir, digest.SHA1, false, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseFinishedFiles, a.State())

	assertRemoved := func(name string) {
		_, err := os.Stat(filepath.Join(stagingDir, name))
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", name)
	}
	assertRemoved("VEOContentSignature1.xml")
	assertRemoved("VEOHistorySignature1.xml")
	assertRemoved("Report1.html")
	assertRemoved("index.html")
	assertRemoved("ReportStyle.css")

	_, err = os.Stat(filepath.Join(stagingDir, "VEOContent.xml"))
	assert.NoError(t, err, "VEOContent.xml itself must survive resign")
}

func TestOpenResign_KeepsFreshContentSignatureWithoutForce(t *testing.T) {
	stagingDir := stageResignableVEO(t, time.Hour)

	_, err := OpenResign(stagingDir, digest.SHA1, false, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(stagingDir, "VEOContentSignature1.xml"))
	assert.NoError(t, err, "a content signature newer than the content manifest is not stale")

	_, err = os.Stat(filepath.Join(stagingDir, "VEOHistorySignature1.xml"))
	assert.True(t, os.IsNotExist(err), "history signatures are always removed, regardless of age")
}

func TestOpenResign_ForceRemovesContentSignatureRegardlessOfAge(t *testing.T) {
	stagingDir := stageResignableVEO(t, time.Hour)

	_, err := OpenResign(stagingDir, digest.SHA1, true, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(stagingDir, "VEOContentSignature1.xml"))
	assert.True(t, os.IsNotExist(err), "force must remove the content signature even when it isn't stale")
}

func TestOpenResign_RejectsMissingStagingDir(t *testing.T) {
	_, err := OpenResign(filepath.Join(t.TempDir(), "does-not-exist"), digest.SHA1, false, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.CodeVEOWorkDirInvalid, errcode.CodeOf(err))
}
