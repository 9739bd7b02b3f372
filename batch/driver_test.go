package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vers-project/veobuilder/digest"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func baseConfig(t *testing.T) (Config, string) {
	t.Helper()
	workDir := t.TempDir()
	templateDir := t.TempDir()
	writeFile(t, templateDir, "VEOReadme.txt", "VERS readme\n")
	outputDir := filepath.Join(workDir, "out")

	return Config{
		WorkDir:     workDir,
		TemplateDir: templateDir,
		OutputDir:   outputDir,
		HashAlgo:    digest.SHA1,
	}, workDir
}

func TestRun_SimpleScriptProducesArchive(t *testing.T) {
	cfg, workDir := baseConfig(t)
	scriptDir := t.TempDir()

	tplPath := writeFile(t, scriptDir, "agls.tpl",
		"http://agls/\thttp://agls/syntax\n<agls:Title>$$column 3$$</agls:Title>")

	rootDir := filepath.Join(workDir, "content", "S-37-6")
	require.NoError(t, os.MkdirAll(rootDir, 0o755))
	writeFile(t, rootDir, "a.docx", "abc")

	script := strings.Join([]string{
		"HASH\tSHA-1",
		"BV\ttestVEO",
		fmt.Sprintf("AC\t%s", rootDir),
		"IO\tRecord\t1",
		fmt.Sprintf("MP\t%s\tTitle\tAuthor\tOrg", tplPath),
		"IP\tLabel\tS-37-6/a.docx",
		"end",
	}, "\n")
	scriptPath := writeFile(t, scriptDir, "control.tsv", script)

	d := New(cfg)
	err := d.Run(scriptPath)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, "testVEO.veo.zip"))
	assert.NoError(t, statErr)
}

func TestRun_HashAfterFirstBV_IsFatal(t *testing.T) {
	cfg, _ := baseConfig(t)
	scriptDir := t.TempDir()

	script := strings.Join([]string{
		"BV\ttestVEO",
		"HASH\tSHA-256",
		"end",
	}, "\n")
	scriptPath := writeFile(t, scriptDir, "control.tsv", script)

	d := New(cfg)
	err := d.Run(scriptPath)
	require.Error(t, err)
}

func TestRun_UnknownCommandAbandonsVEOAndScansToNextBV(t *testing.T) {
	cfg, workDir := baseConfig(t)
	scriptDir := t.TempDir()

	tplPath := writeFile(t, scriptDir, "agls.tpl",
		"http://agls/\thttp://agls/syntax\n<agls:Title>$$column 3$$</agls:Title>")

	rootDir := filepath.Join(workDir, "content", "S-37-6")
	require.NoError(t, os.MkdirAll(rootDir, 0o755))
	writeFile(t, rootDir, "a.docx", "abc")

	script := strings.Join([]string{
		"HASH\tSHA-1",
		"BV\tfirstVEO",
		"BOGUS\tsomething",
		"BV\tsecondVEO",
		fmt.Sprintf("AC\t%s", rootDir),
		"IO\tRecord\t1",
		fmt.Sprintf("MP\t%s\tTitle\tAuthor\tOrg", tplPath),
		"IP\tLabel\tS-37-6/a.docx",
		"end",
	}, "\n")
	scriptPath := writeFile(t, scriptDir, "control.tsv", script)

	d := New(cfg)
	err := d.Run(scriptPath)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(workDir, "firstVEO.veo"))
	assert.True(t, os.IsNotExist(err), "first VEO should have been abandoned")

	_, err = os.Stat(filepath.Join(cfg.OutputDir, "secondVEO.veo.zip"))
	assert.NoError(t, err)
}

func TestSplitOnSeparator(t *testing.T) {
	before, after := splitOnSeparator([]string{"a", "b", "$$", "c", "d"})
	assert.Equal(t, []string{"a", "b"}, before)
	assert.Equal(t, []string{"c", "d"}, after)

	before2, after2 := splitOnSeparator([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, before2)
	assert.Nil(t, after2)
}
