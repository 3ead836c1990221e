package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calendar2image/c2i-service/internal/history"
)

func TestSave_ThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, history.New(dir, nil))

	meta, err := c.Save("kitchen", []byte("pixels"), "image/png", "png", "scheduled", 1.2)
	require.NoError(t, err)
	assert.NotEmpty(t, meta.CRC32)
	assert.Equal(t, "kitchen", meta.Name)
	assert.Equal(t, len("pixels"), meta.Size)

	data, loaded, ok := c.Load("kitchen", "png")
	require.True(t, ok)
	assert.Equal(t, []byte("pixels"), data)
	assert.Equal(t, meta.CRC32, loaded.CRC32)
	assert.Equal(t, "kitchen", loaded.Name)
	assert.Equal(t, len("pixels"), loaded.Size)
}

func TestSave_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, history.New(dir, nil))

	_, err := c.Save("kitchen", []byte("pixels"), "image/png", "png", "scheduled", 1.2)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSave_RecordsHistory(t *testing.T) {
	dir := t.TempDir()
	h := history.New(dir, nil)
	c := New(dir, h)

	_, err := c.Save("kitchen", []byte("pixels"), "image/png", "png", "scheduled", 1.2)
	require.NoError(t, err)

	entries := h.Read("kitchen")
	require.Len(t, entries, 1)
}

func TestLoad_MissingArtifactReturnsNotOK(t *testing.T) {
	c := New(t.TempDir(), nil)
	_, _, ok := c.Load("missing", "png")
	assert.False(t, ok)
}

func TestMetadata_UnparseableSidecarReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "kitchen.meta.json"), []byte(`not json`), 0o600))

	_, ok := c.Metadata("kitchen")
	assert.False(t, ok)
}

func TestSave_AddsNameToRecentIndex(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, history.New(dir, nil))

	_, err := c.Save("kitchen", []byte("pixels"), "image/png", "png", "scheduled", 1.2)
	require.NoError(t, err)

	assert.Contains(t, c.RecentNames(), "kitchen")
}

func TestWarmIndex_SeedsFromExistingMetadata(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, history.New(dir, nil))

	_, err := c.Save("kitchen", []byte("pixels"), "image/png", "png", "scheduled", 1.2)
	require.NoError(t, err)

	fresh := New(dir, history.New(dir, nil))
	assert.Empty(t, fresh.RecentNames())
	fresh.WarmIndex()
	assert.Contains(t, fresh.RecentNames(), "kitchen")
}

func TestCleanupTemp_RemovesStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kitchen.png.tmp"), []byte("stale"), 0o600))

	c := New(dir, nil)
	require.NoError(t, c.CleanupTemp())

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
