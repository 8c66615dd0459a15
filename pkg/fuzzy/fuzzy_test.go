package fuzzy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyInputs(t *testing.T) {
	m := New()
	assert.Empty(t, m.FindMatches("", "some text"))
	assert.Empty(t, m.FindMatches("pattern", ""))
	assert.Empty(t, m.FindMatches("", ""))
}

func TestExactMatchShortCircuits(t *testing.T) {
	m := New()
	matches := m.FindMatches("abc", "abc def abc ghi")

	require.Len(t, matches, 1)
	assert.Equal(t, AlgoExact, matches[0].Algo)
	assert.Equal(t, 0, matches[0].Start)
	assert.Equal(t, 3, matches[0].End)
	assert.Equal(t, 1.0, matches[0].Similarity)
}

func TestScorePairIdentical(t *testing.T) {
	m := New()
	s := m.ScorePair("hello world", "hello world")
	assert.InDelta(t, 1.0, s.Combined, 0.001)
	assert.InDelta(t, 1.0, s.NormalizedLevenshtein, 0.001)
}

func TestScorePairSimilarCode(t *testing.T) {
	m := New()
	s := m.ScorePair("function test()", "function test(x)")
	assert.Greater(t, s.Combined, 0.85)

	s = m.ScorePair("hello", "xyzzy")
	assert.Less(t, s.Combined, 0.3)
}

func TestWhitespaceDriftMatches(t *testing.T) {
	m := New()
	pattern := "fn main() {\n    x+1\n}"
	text := "fn main() {\n    x + 1\n}\n"

	match, ok := m.BestMatch(pattern, text)
	require.True(t, ok)
	assert.Greater(t, match.Similarity, 0.85)
}

func TestCodeBlockOneTokenChanged(t *testing.T) {
	m := New()
	pattern := "fn calculate(x: i32) {\n    x * 2\n}"
	text := "fn calculate(x: i32) {\n    x * 3\n}"

	matches := m.FindMatches(pattern, text)
	require.NotEmpty(t, matches)
	assert.Greater(t, matches[0].Similarity, 0.8)
}

func TestLargeTextExactInMiddle(t *testing.T) {
	m := New()
	pattern := "specific pattern to find"
	text := strings.Repeat("x", 10000) + pattern + strings.Repeat("y", 10000)

	matches := m.FindMatches(pattern, text)
	require.NotEmpty(t, matches)
	assert.Equal(t, AlgoExact, matches[0].Algo)
	assert.Equal(t, 10000, matches[0].Start)
}

func TestWindowedNearMatchInLargeText(t *testing.T) {
	m := New()
	pattern := "func process(items []string) error {\n\treturn walk(items)\n}"
	// Same function with one identifier changed, buried in filler.
	needle := "func process(items []string) error {\n\treturn visit(items)\n}"
	text := strings.Repeat("// filler line of unrelated content\n", 40) +
		needle +
		strings.Repeat("\n// more unrelated trailing content", 40)

	match, ok := m.BestMatch(pattern, text)
	require.True(t, ok)
	assert.Greater(t, match.Similarity, 0.85)
	// The located window must overlap the needle's position.
	needleStart := strings.Index(text, needle)
	assert.Less(t, match.Start, needleStart+len(needle))
	assert.Greater(t, match.End, needleStart)
}

func TestNoMatchBelowThreshold(t *testing.T) {
	m := New()
	_, ok := m.BestMatch("completely different content", "0123456789 qwerty zxcvb")
	assert.False(t, ok)
}

func TestDedupeKeepsBestOfOverlapGroup(t *testing.T) {
	matches := []Match{
		{Similarity: 0.95, Start: 100, End: 160},
		{Similarity: 0.90, Start: 120, End: 180}, // overlaps first
		{Similarity: 0.88, Start: 400, End: 460}, // distinct
	}
	kept := dedupeOverlapping(matches)
	require.Len(t, kept, 2)
	assert.Equal(t, 100, kept[0].Start)
	assert.Equal(t, 400, kept[1].Start)
}

func TestMaxMatchesCap(t *testing.T) {
	m := NewWithConfig(Config{Threshold: 0.1, MaxMatches: 2})
	text := strings.Repeat("aaaa bbbb cccc dddd ", 50)
	matches := m.FindMatches("aaaa bbbb cccc dddd x", text)
	assert.LessOrEqual(t, len(matches), 2)
}

func TestHighConfidenceThresholdRejectsLooseMatch(t *testing.T) {
	strict := NewWithConfig(Config{Threshold: HighConfidenceThreshold})
	// Several edits apart; should clear 0.85 but not 0.95.
	pattern := "let total = price * quantity;"
	text := "let total = cost * quantity!"

	loose := New()
	if _, ok := loose.BestMatch(pattern, text); ok {
		_, strictOK := strict.BestMatch(pattern, text)
		assert.False(t, strictOK)
	}
}

func TestTieBreakByLowerStart(t *testing.T) {
	m := NewWithConfig(Config{Threshold: 0.5, MaxMatches: 5, Parallel: false})
	// Two identical non-overlapping regions; equal similarity, lower start wins.
	region := "alpha beta gamma delta"
	filler := strings.Repeat("z", 300)
	text := region + "!" + filler + region + "!"

	matches := m.FindMatches(region+"?", text)
	require.NotEmpty(t, matches)
	first := matches[0]
	for _, other := range matches[1:] {
		if other.Similarity == first.Similarity {
			assert.Greater(t, other.Start, first.Start)
		}
	}
}
