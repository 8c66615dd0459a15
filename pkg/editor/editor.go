package editor

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/fuzzy"
	"github.com/deskhand/deskhand/pkg/logger"
)

// ambiguityMargin is how close a runner-up's score must be to the best
// candidate for the fuzzy result to count as ambiguous.
const ambiguityMargin = 0.05

// Locator is the optional LLM-assisted fallback interface. Implemented by
// fuzzy.LLMLocator; nil disables it.
type Locator interface {
	Locate(ctx context.Context, pattern, text string) (fuzzy.Match, bool)
}

// Engine applies parsed blocks to a working copy.
type Engine struct {
	matcher *fuzzy.Matcher
	locator Locator
}

// NewEngine builds an engine. locator may be nil.
func NewEngine(matcher *fuzzy.Matcher, locator Locator) *Engine {
	if matcher == nil {
		matcher = fuzzy.New()
	}
	return &Engine{matcher: matcher, locator: locator}
}

// ApplyBlocks applies each block in order to the accumulated result of the
// prior ones. A failure in any block aborts the whole edit; the caller sees
// either the fully transformed text or an error.
func (e *Engine) ApplyBlocks(ctx context.Context, content string, blocks []Block) (string, error) {
	for i, block := range blocks {
		updated, err := e.applyBlock(ctx, content, block)
		if err != nil {
			return "", errors.Wrapf(err, "block %d", i+1)
		}
		content = updated
	}
	return content, nil
}

func (e *Engine) applyBlock(ctx context.Context, content string, block Block) (string, error) {
	// Exact occurrence takes priority over any fuzzy configuration.
	switch count := strings.Count(content, block.Search); {
	case count == 1:
		return strings.Replace(content, block.Search, block.Replace, 1), nil
	case count > 1:
		return "", fault.Ambiguous(count,
			"search block matches %d locations; add more context to make it unique", count)
	}

	matches := e.matcher.FindMatches(block.Search, content)
	if len(matches) == 0 && e.locator != nil {
		if m, ok := e.locator.Locate(ctx, block.Search, content); ok {
			matches = []fuzzy.Match{m}
		}
	}
	if len(matches) == 0 {
		return "", fault.New(fault.SearchBlockNotFound,
			"search block not found (no match at similarity >= %.2f)", e.matcher.Threshold())
	}
	best := matches[0]
	if len(matches) > 1 && matches[1].Similarity >= best.Similarity-ambiguityMargin {
		return "", fault.Ambiguous(len(matches),
			"search block fuzzy-matches %d comparable locations; add more context", len(matches))
	}

	logger.DebugCF("editor", "fuzzy match applied", map[string]any{
		"similarity": best.Similarity,
		"algo":       string(best.Algo),
		"start":      best.Start,
	})
	return content[:best.Start] + block.Replace + content[best.End:], nil
}

// WriteAtomic writes data to path via a temp file in the same directory plus
// rename, so no partial write is ever visible.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing %s", tmpName)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "setting mode on %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "closing %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "renaming into %s", path)
	}
	return nil
}
