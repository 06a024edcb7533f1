package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key("chapter", "https://tariff.example/ch84")
	b := Key("chapter", "https://tariff.example/ch85")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "tariffscope-v1-chapter-"))
	assert.NotContains(t, a, "/")
}

func TestDiskCacheRoundTripAndExpiry(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set("k", []byte("v"), 0))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
	assert.Equal(t, "k.cache", entries[0].Name())

	now = now.Add(2 * time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(dir, "k.cache"))
	assert.True(t, os.IsNotExist(err), "expired entry removed")

	assert.NoError(t, c.Delete("absent"))
}

func TestDiskCacheIgnoresCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.cache"), []byte("{"), 0o644))
	_, ok := NewDiskCache(dir, time.Hour).Get("bad")
	assert.False(t, ok)
}

func TestLayeredCachePromotesFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewDiskCache(dir, time.Hour).Set("k", []byte("v"), 0))

	c := NewLayeredCache(time.Minute, dir, time.Hour)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.disk.Clear())
	got, ok = c.Get("k")
	require.True(t, ok, "served from memory after promotion")
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Clear())
	_, ok = c.Get("k")
	assert.False(t, ok)
}
