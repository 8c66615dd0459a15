// Package config holds the runtime configuration for deskhand, loaded from
// the environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config is populated from DESKHAND_* environment variables with the listed
// defaults. One instance is built at startup and passed by handle.
type Config struct {
	// MaxFileSize is the per-file read/write ceiling in bytes.
	MaxFileSize int64 `env:"DESKHAND_MAX_FILE_SIZE" envDefault:"50000000"`

	// MaxOutputSize caps accumulated shell output before truncation.
	MaxOutputSize int `env:"DESKHAND_MAX_OUTPUT_SIZE" envDefault:"1048576"`

	// ReadBudgetChars caps the concatenated output of a single ReadFiles call.
	ReadBudgetChars int `env:"DESKHAND_READ_BUDGET_CHARS" envDefault:"24000"`

	// CacheMaxEntries bounds the process-wide file cache.
	CacheMaxEntries int `env:"DESKHAND_CACHE_MAX_ENTRIES" envDefault:"100"`

	// CacheMaxBody is the largest file body the cache retains in memory.
	CacheMaxBody int64 `env:"DESKHAND_CACHE_MAX_BODY" envDefault:"10485760"`

	// FuzzyThreshold is the default combined-score acceptance threshold.
	FuzzyThreshold float64 `env:"DESKHAND_FUZZY_THRESHOLD" envDefault:"0.85"`

	// FuzzyStrict switches edits to the high-confidence threshold (0.95).
	FuzzyStrict bool `env:"DESKHAND_FUZZY_STRICT" envDefault:"false"`

	// PromptGrace is the drain window after the prompt sentinel is sighted.
	PromptGrace time.Duration `env:"DESKHAND_PROMPT_GRACE" envDefault:"100ms"`

	// RefuseInteractive escalates the interactive-command warning to refusal.
	RefuseInteractive bool `env:"DESKHAND_REFUSE_INTERACTIVE" envDefault:"false"`

	// LLMFallback enables the LLM-assisted fuzzy fallback. Off by default;
	// the deterministic path never waits on it.
	LLMFallback        bool          `env:"DESKHAND_LLM_FALLBACK" envDefault:"false"`
	LLMFallbackModel   string        `env:"DESKHAND_LLM_FALLBACK_MODEL" envDefault:"claude-haiku-4-5"`
	LLMFallbackTimeout time.Duration `env:"DESKHAND_LLM_FALLBACK_TIMEOUT" envDefault:"10s"`

	// DataDir overrides the app data directory used for saved task contexts.
	DataDir string `env:"DESKHAND_DATA_DIR"`

	// Debug enables debug logging.
	Debug bool `env:"DESKHAND_DEBUG" envDefault:"false"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	return cfg, nil
}

// AppDataDir resolves the directory for persisted task contexts, in order of
// preference: explicit override, $XDG_DATA_HOME/deskhand,
// ~/.local/share/deskhand, $TMPDIR/deskhand-data.
func (c *Config) AppDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "deskhand")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", "deskhand")
	}
	return filepath.Join(os.TempDir(), "deskhand-data")
}
