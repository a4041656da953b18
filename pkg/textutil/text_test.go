package textutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	assert.Equal(t, "", Clean(""))
	assert.Equal(t, "hello world", Clean("  hello \n\t world  "))
	// NFKD splits the ligature into plain letters.
	assert.Equal(t, "file", Clean("ﬁle"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10, true))
	assert.Equal(t, "hello w...", Truncate("hello world!", 10, true))
	assert.Equal(t, "hello worl", Truncate("hello world!", 10, false))
	assert.Equal(t, "hel", Truncate("hello", 3, true))
	assert.Equal(t, "привет...", Truncate("привет мир", 9, true))
}

func TestKeywords(t *testing.T) {
	got := Keywords("The cat and the Dog chased the cat into a garden", 10)
	assert.Equal(t, []string{"cat", "dog", "chased", "garden"}, got)

	assert.Len(t, Keywords("alpha beta gamma delta", 2), 2)
	assert.Nil(t, Keywords("", 5))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard("", "x"))
	assert.Equal(t, 1.0, Jaccard("a b", "B A"))
	assert.InDelta(t, 1.0/3.0, Jaccard("a b", "b c"), 1e-9)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c.txt", SanitizeFilename(" a<b>c.txt. "))

	long := strings.Repeat("x", 300) + ".pdf"
	got := SanitizeFilename(long)
	assert.Len(t, got, 255)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "Unknown", FormatFileSize(-1))
	assert.Equal(t, "512.0 B", FormatFileSize(512))
	assert.Equal(t, "1.5 KB", FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", FormatFileSize(2*1024*1024))
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "2024-03-09 14:05:07", FormatTimestamp(ts))
	assert.NotEmpty(t, FormatTimestamp(time.Time{}))
}

func TestChunkAndMerge(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Nil(t, Chunk([]int{1}, 0))

	m := Merge(map[string]int{"a": 1, "b": 2}, map[string]int{"b": 3})
	assert.Equal(t, map[string]int{"a": 1, "b": 3}, m)
}

func TestSafeDivide(t *testing.T) {
	assert.Equal(t, 2.0, SafeDivide(4, 2, -1))
	assert.Equal(t, -1.0, SafeDivide(4, 0, -1))
}
