package filecache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CountLines([]byte(tt.content)), "content %q", tt.content)
	}
}

func TestReadCachesContent(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "Line 1\nLine 2\nLine 3\n")

	content, err := c.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "Line 1\nLine 2\nLine 3\n", string(content))
	assert.Equal(t, 1, c.Len())

	again, err := c.Read(path)
	require.NoError(t, err)
	assert.Equal(t, content, again)
}

func TestReadRangesMergeAndComplement(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "1\n2\n3\n4\n5\n")
	_, err := c.Read(path)
	require.NoError(t, err)

	c.RecordReadRange(path, 1, 2)
	c.RecordReadRange(path, 4, 5)
	assert.Equal(t, []Range{{3, 3}}, c.UnreadRanges(path))
	assert.InDelta(t, 80.0, c.ReadPercentage(path), 0.01)

	c.RecordReadRange(path, 3, 3)
	assert.Empty(t, c.UnreadRanges(path))
	assert.InDelta(t, 100.0, c.ReadPercentage(path), 0.01)
}

func TestAdjacentRangesMerge(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "1\n2\n3\n4\n5\n6\n")
	_, err := c.Read(path)
	require.NoError(t, err)

	c.RecordReadRange(path, 1, 2)
	c.RecordReadRange(path, 3, 4)
	c.RecordReadRange(path, 2, 3)
	assert.Equal(t, []Range{{5, 6}}, c.UnreadRanges(path))
}

func TestRangesClampedToFile(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "1\n2\n3\n")
	_, err := c.Read(path)
	require.NoError(t, err)

	c.RecordReadRange(path, 0, 99)
	assert.Empty(t, c.UnreadRanges(path))
	assert.True(t, c.CanOverwrite(path))
}

func TestCanOverwrite(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "1\n2\n3\n4\n5\n")

	// Missing files are always writable.
	assert.True(t, c.CanOverwrite(filepath.Join(t.TempDir(), "absent.txt")))

	_, err := c.Read(path)
	require.NoError(t, err)

	c.RecordReadRange(path, 1, 2)
	assert.False(t, c.CanOverwrite(path))
	assert.Contains(t, c.OverwriteDenial(path), "3-5")

	c.RecordReadRange(path, 1, 5)
	assert.True(t, c.CanOverwrite(path))
	assert.Empty(t, c.OverwriteDenial(path))
}

func TestHasChangedAfterExternalWrite(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "1\n2\n")
	_, err := c.Read(path)
	require.NoError(t, err)
	assert.False(t, c.HasChanged(path))

	// Force a different mtime; some filesystems have coarse resolution.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	assert.True(t, c.HasChanged(path))
}

func TestRecordWriteMarksFullyRead(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "old\n")

	content := []byte("new 1\nnew 2\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	c.RecordWrite(path, content)

	assert.True(t, c.CanOverwrite(path))
	hash, ok := c.Hash(path)
	require.True(t, ok)
	assert.Equal(t, HashBytes(content), hash)
	total, ok := c.TotalLines(path)
	require.True(t, ok)
	assert.Equal(t, 2, total)
}

func TestLineCountChangeInvalidatesLedger(t *testing.T) {
	c := New(0, 0)
	path := writeTemp(t, "1\n2\n3\n")
	_, err := c.Read(path)
	require.NoError(t, err)
	c.RecordReadRange(path, 1, 3)
	require.True(t, c.CanOverwrite(path))

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n3\n4\n"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	_, err = c.Read(path)
	require.NoError(t, err)
	assert.False(t, c.CanOverwrite(path))
	assert.Equal(t, []Range{{1, 4}}, c.UnreadRanges(path))
}

func TestEviction(t *testing.T) {
	c := New(10, 0)
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		path := filepath.Join(dir, fmt.Sprintf("f%02d.txt", i))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
		_, err := c.Read(path)
		require.NoError(t, err)
	}
	// Over capacity the oldest-accessed half is dropped.
	assert.LessOrEqual(t, c.Len(), 10)
	assert.GreaterOrEqual(t, c.Len(), 5)
}

func TestStatsAndMostActive(t *testing.T) {
	c := New(0, 0)
	quiet := writeTemp(t, "a\n")
	busy := writeTemp(t, "b\n")

	_, err := c.Read(quiet)
	require.NoError(t, err)
	_, err = c.Read(busy)
	require.NoError(t, err)
	c.RecordEdit(busy)
	c.RecordEdit(busy)

	stats, ok := c.FileStats(busy)
	require.True(t, ok)
	assert.Equal(t, 2, stats.EditCount)
	assert.False(t, stats.FirstAccessed.IsZero())

	active := c.MostActive(1)
	require.Len(t, active, 1)
	assert.Equal(t, busy, active[0].Path)
}
