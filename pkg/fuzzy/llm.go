package fuzzy

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/deskhand/deskhand/pkg/logger"
)

// LLMLocator asks a model to quote the region of a file that corresponds to
// a search block when both exact and fuzzy search fail. It is a best-effort
// extension: every failure mode degrades to "no match" so the deterministic
// path is never blocked.
type LLMLocator struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewLLMLocator builds a locator using ambient API credentials
// (ANTHROPIC_API_KEY). Calls are rate limited to one per two seconds.
func NewLLMLocator(model string, timeout time.Duration) *LLMLocator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMLocator{
		client:  anthropic.NewClient(),
		model:   model,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

const locatorSystem = "You locate code regions. Given a SEARCH block and FILE content, " +
	"reply with the exact, verbatim substring of FILE that the SEARCH block was meant to match. " +
	"Reply with that substring only, no commentary. If nothing corresponds, reply with NO_MATCH."

// Locate returns the region of text the model identifies for pattern. The
// returned snippet is only trusted if it occurs verbatim in text.
func (l *LLMLocator) Locate(ctx context.Context, pattern, text string) (Match, bool) {
	if !l.limiter.Allow() {
		logger.DebugCF("fuzzy", "llm locate rate limited", nil)
		return Match{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	prompt := "SEARCH:\n" + pattern + "\n\nFILE:\n" + text
	msg, err := l.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: 2048,
		System:    []anthropic.TextBlockParam{{Text: locatorSystem}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		logger.DebugCF("fuzzy", "llm locate failed", map[string]any{"error": err.Error()})
		return Match{}, false
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	snippet := strings.TrimSuffix(reply.String(), "\n")
	if snippet == "" || snippet == "NO_MATCH" {
		return Match{}, false
	}
	pos := strings.Index(text, snippet)
	if pos < 0 {
		logger.DebugCF("fuzzy", "llm snippet not present verbatim", nil)
		return Match{}, false
	}
	return Match{
		Text:       snippet,
		Similarity: 1.0,
		Start:      pos,
		End:        pos + len(snippet),
		Algo:       "llm",
	}, true
}
