package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_TTLExpiryTreatedAsAbsent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(60 * time.Second)
	c.now = func() time.Time { return now }

	c.Put("tenant-1", "<rss/>")

	entry, ok := c.Get("tenant-1")
	require.True(t, ok)
	require.Equal(t, "<rss/>", entry.Content)

	now = now.Add(59 * time.Second)
	_, ok = c.Get("tenant-1")
	require.True(t, ok)

	now = now.Add(time.Second)
	_, ok = c.Get("tenant-1")
	require.False(t, ok)
	require.Equal(t, 0, c.Snapshot().Size)
}

func TestCache_OneEntryPerTenant(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("tenant-1", "first")
	c.Put("tenant-1", "second")

	entry, ok := c.Get("tenant-1")
	require.True(t, ok)
	require.Equal(t, "second", entry.Content)
	require.Equal(t, 1, c.Snapshot().Size)
}

func TestCache_ClearReportsDroppedCount(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("a", "x")
	c.Put("b", "y")

	require.Equal(t, 2, c.Clear())
	require.Equal(t, 0, c.Clear())
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestCache_SweepExpiredRemovesOnlyStaleEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(60 * time.Second)
	c.now = func() time.Time { return now }

	c.Put("stale", "old")
	now = now.Add(45 * time.Second)
	c.Put("fresh", "new")
	now = now.Add(30 * time.Second)

	require.Equal(t, 1, c.SweepExpired())
	_, ok := c.Get("fresh")
	require.True(t, ok)
	_, ok = c.Get("stale")
	require.False(t, ok)
}

func TestCache_SnapshotSortsKeys(t *testing.T) {
	c := NewCache(time.Minute)
	c.Put("zeta", "z")
	c.Put("alpha", "a")

	stats := c.Snapshot()
	require.Equal(t, []string{"alpha", "zeta"}, stats.Keys)
	require.False(t, stats.LastGeneratedAt.IsZero())
}
