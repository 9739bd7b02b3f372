package veohistory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAddEventClose_ProducesWellFormedManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, b.AddEvent(ts, "Created", "operator", []string{"first record"}, nil))
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "<vers:Version>3.0</vers:Version>")
	assert.Contains(t, out, "<vers:EventType>Created</vers:EventType>")
	assert.Contains(t, out, "<vers:Initiator>operator</vers:Initiator>")
	assert.Contains(t, out, "<vers:Description>first record</vers:Description>")
	assert.Contains(t, out, "</vers:VEOHistory>")
}

func TestAddEvent_ZeroTimestampIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)

	err = b.AddEvent(time.Time{}, "Created", "operator", nil, nil)
	assert.Error(t, err)
}

func TestAddEvent_BlankFieldsGetSentinels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)

	require.NoError(t, b.AddEvent(time.Now(), "", "", nil, nil))
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, defaultEventType)
	assert.Contains(t, out, defaultInitiator)
	assert.Contains(t, out, defaultDescription)
}

func TestAddEvent_AfterCloseIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	err = b.AddEvent(time.Now(), "x", "y", nil, nil)
	assert.Error(t, err)
}

func TestClose_Twice_IsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.Error(t, b.Close())
}

func TestAbandon_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)
	require.NoError(t, b.Abandon())
	assert.NoError(t, b.Abandon())
}

func TestPath_ReturnsManifestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "VEOHistory.xml")
	b, err := Start(path, "3.0")
	require.NoError(t, err)
	assert.Equal(t, path, b.Path())
}
