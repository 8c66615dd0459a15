// Package fuzzy locates an approximate occurrence of a pattern inside a
// larger text. The edit engine uses it to find a search block when the exact
// bytes are missing (whitespace drift, minor typos, reformatting).
//
// The matcher is pure: no I/O, no session state.
package fuzzy

import (
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/sync/errgroup"
)

// Acceptance thresholds for the combined score.
const (
	DefaultThreshold            = 0.85
	HighConfidenceThreshold     = 0.95
	VeryHighConfidenceThreshold = 0.98
)

// parallelWindowMin is the window count at which scoring fans out.
const parallelWindowMin = 20

// Algo names the algorithm that produced a match.
type Algo string

const (
	AlgoExact    Algo = "exact"
	AlgoCombined Algo = "combined"
)

// Match is one located candidate. Start and End are byte offsets into the
// haystack; exact matches carry Similarity == 1.
type Match struct {
	Text       string
	Similarity float64
	Start      int
	End        int
	Algo       Algo
}

// Score breaks the combined similarity into its components.
type Score struct {
	NormalizedLevenshtein float64
	JaroWinkler           float64
	SorensenDice          float64
	NGramJaccard          float64
	Combined              float64
}

// Config tunes the matcher.
type Config struct {
	// Threshold is the minimum combined score for a candidate.
	Threshold float64
	// MaxMatches caps the returned candidates.
	MaxMatches int
	// NGramSize is the character n-gram size for the Jaccard component.
	NGramSize int
	// Parallel allows fan-out window scoring on large texts.
	Parallel bool
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		MaxMatches: 5,
		NGramSize:  3,
		Parallel:   true,
	}
}

// Matcher scores pattern/window pairs with a weighted blend of string
// similarity metrics.
type Matcher struct {
	cfg  Config
	lev  *metrics.Levenshtein
	jw   *metrics.JaroWinkler
	dice *metrics.SorensenDice
	jac  *metrics.Jaccard
}

// New creates a matcher with the default configuration.
func New() *Matcher { return NewWithConfig(DefaultConfig()) }

// NewWithConfig creates a matcher with cfg; zero fields take defaults.
func NewWithConfig(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = def.MaxMatches
	}
	if cfg.NGramSize < 2 {
		cfg.NGramSize = def.NGramSize
	}

	lev := metrics.NewLevenshtein()
	lev.CaseSensitive = true
	dice := metrics.NewSorensenDice()
	dice.NgramSize = 2
	jac := metrics.NewJaccard()
	jac.NgramSize = cfg.NGramSize

	return &Matcher{
		cfg:  cfg,
		lev:  lev,
		jw:   metrics.NewJaroWinkler(),
		dice: dice,
		jac:  jac,
	}
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.cfg.Threshold }

// ScorePair computes the component and combined similarities for a pair.
// Weights: 0.4 normalized Levenshtein, 0.2 Jaro-Winkler, 0.2 Sørensen-Dice,
// 0.2 trigram Jaccard.
func (m *Matcher) ScorePair(pattern, text string) Score {
	s := Score{
		NormalizedLevenshtein: strutil.Similarity(pattern, text, m.lev),
		JaroWinkler:           strutil.Similarity(pattern, text, m.jw),
		SorensenDice:          strutil.Similarity(pattern, text, m.dice),
		NGramJaccard:          strutil.Similarity(pattern, text, m.jac),
	}
	s.Combined = 0.4*s.NormalizedLevenshtein + 0.2*s.JaroWinkler + 0.2*s.SorensenDice + 0.2*s.NGramJaccard
	return s
}

// FindMatches returns up to MaxMatches candidates for pattern inside text,
// sorted by similarity descending with ties broken by lower start position.
// An exact occurrence short-circuits everything else.
func (m *Matcher) FindMatches(pattern, text string) []Match {
	if pattern == "" || text == "" {
		return nil
	}

	if pos := strings.Index(text, pattern); pos >= 0 {
		return []Match{{
			Text:       pattern,
			Similarity: 1.0,
			Start:      pos,
			End:        pos + len(pattern),
			Algo:       AlgoExact,
		}}
	}

	var candidates []Match
	if len(text) <= 10*len(pattern) {
		if s := m.ScorePair(pattern, text); s.Combined >= m.cfg.Threshold {
			candidates = append(candidates, Match{
				Text:       text,
				Similarity: s.Combined,
				Start:      0,
				End:        len(text),
				Algo:       AlgoCombined,
			})
		}
	} else {
		candidates = m.scoreWindows(pattern, text)
		candidates = append(candidates, m.scoreLineAligned(pattern, text)...)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Start < candidates[j].Start
	})
	candidates = dedupeOverlapping(candidates)
	if len(candidates) > m.cfg.MaxMatches {
		candidates = candidates[:m.cfg.MaxMatches]
	}
	return candidates
}

// BestMatch returns the highest-scoring candidate, if any.
func (m *Matcher) BestMatch(pattern, text string) (Match, bool) {
	matches := m.FindMatches(pattern, text)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

type window struct {
	start int
	text  string
}

// scoreWindows slides windows of 1.5x the pattern length with a stride of a
// quarter pattern length and scores each against the pattern.
func (m *Matcher) scoreWindows(pattern, text string) []Match {
	patternLen := len(pattern)
	windowSize := patternLen * 3 / 2
	if windowSize > len(text) {
		windowSize = len(text)
	}
	if windowSize < patternLen {
		return nil
	}
	stride := patternLen / 4
	if stride < 1 {
		stride = 1
	}

	var windows []window
	pos := 0
	for pos+windowSize <= len(text) {
		windows = append(windows, window{pos, text[pos : pos+windowSize]})
		pos += stride
	}
	if pos < len(text) && len(text)-pos >= patternLen {
		windows = append(windows, window{pos, text[pos:]})
	}

	if m.cfg.Parallel && len(windows) >= parallelWindowMin {
		return m.scoreWindowsParallel(pattern, windows)
	}

	var matches []Match
	for _, w := range windows {
		if s := m.ScorePair(pattern, w.text); s.Combined >= m.cfg.Threshold {
			matches = append(matches, Match{
				Text:       w.text,
				Similarity: s.Combined,
				Start:      w.start,
				End:        w.start + len(w.text),
				Algo:       AlgoCombined,
			})
		}
	}
	return matches
}

func (m *Matcher) scoreWindowsParallel(pattern string, windows []window) []Match {
	var (
		mu      sync.Mutex
		matches []Match
	)
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for _, w := range windows {
		g.Go(func() error {
			if s := m.ScorePair(pattern, w.text); s.Combined >= m.cfg.Threshold {
				mu.Lock()
				matches = append(matches, Match{
					Text:       w.text,
					Similarity: s.Combined,
					Start:      w.start,
					End:        w.start + len(w.text),
					Algo:       AlgoCombined,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return matches
}

// scoreLineAligned slides a span of len(pattern lines) over the text's line
// boundaries and scores each span. Byte windows drift relative to line starts;
// this recovers alignment for multi-line patterns.
func (m *Matcher) scoreLineAligned(pattern, text string) []Match {
	patternLines := strings.Count(pattern, "\n") + 1
	if patternLines < 2 {
		return nil
	}

	// Byte offset of each line start, plus a terminator at len(text).
	starts := []int{0}
	for i, c := range []byte(text) {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	if starts[len(starts)-1] != len(text) {
		starts = append(starts, len(text))
	}
	lineCount := len(starts) - 1
	if lineCount < patternLines {
		return nil
	}

	var matches []Match
	for i := 0; i+patternLines <= lineCount; i++ {
		start := starts[i]
		end := starts[i+patternLines]
		span := strings.TrimSuffix(text[start:end], "\n")
		if s := m.ScorePair(pattern, span); s.Combined >= m.cfg.Threshold {
			matches = append(matches, Match{
				Text:       span,
				Similarity: s.Combined,
				Start:      start,
				End:        start + len(span),
				Algo:       AlgoCombined,
			})
		}
	}
	return matches
}

// dedupeOverlapping keeps the best candidate of each overlapping group. The
// input must already be sorted best-first.
func dedupeOverlapping(matches []Match) []Match {
	var kept []Match
	for _, m := range matches {
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && m.End > k.Start {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	return kept
}
