package tools

import (
	"sync"

	"github.com/deskhand/deskhand/pkg/config"
	"github.com/deskhand/deskhand/pkg/editor"
	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/filecache"
	"github.com/deskhand/deskhand/pkg/fuzzy"
	"github.com/deskhand/deskhand/pkg/session"
)

// Service owns the single active session and the shared collaborators: the
// process-wide file cache and the edit engine. One controller serves one
// session at a time; a host may run several controllers.
type Service struct {
	cfg    *config.Config
	cache  *filecache.Cache
	engine *editor.Engine

	mu      sync.Mutex
	session *session.Session
}

// NewService wires a service from configuration.
func NewService(cfg *config.Config) *Service {
	matcherCfg := fuzzy.DefaultConfig()
	matcherCfg.Threshold = cfg.FuzzyThreshold
	if cfg.FuzzyStrict {
		matcherCfg.Threshold = fuzzy.HighConfidenceThreshold
	}

	var locator editor.Locator
	if cfg.LLMFallback {
		locator = fuzzy.NewLLMLocator(cfg.LLMFallbackModel, cfg.LLMFallbackTimeout)
	}

	return &Service{
		cfg:    cfg,
		cache:  filecache.New(cfg.CacheMaxEntries, cfg.CacheMaxBody),
		engine: editor.NewEngine(fuzzy.NewWithConfig(matcherCfg), locator),
	}
}

// NewServiceWithCache injects a cache, for tests.
func NewServiceWithCache(cfg *config.Config, cache *filecache.Cache) *Service {
	svc := NewService(cfg)
	svc.cache = cache
	return svc
}

// Cache exposes the file cache (status reporting, tests).
func (svc *Service) Cache() *filecache.Cache { return svc.cache }

// current returns the active session, or a ConfigError fault.
func (svc *Service) current() (*session.Session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.session == nil {
		return nil, fault.New(fault.ConfigError, "no active session; call initialize first")
	}
	return svc.session, nil
}

// withSession runs fn holding the per-session mutex, after thread-id
// enforcement. Every tool call except Initialize goes through here, which
// makes "one command at a time per shell" a locking invariant.
func (svc *Service) withSession(threadID string, fn func(*session.Session) error) error {
	sess, err := svc.current()
	if err != nil {
		return err
	}
	sess.Lock()
	defer sess.Unlock()
	if err := sess.CheckThread(threadID); err != nil {
		return err
	}
	return fn(sess)
}

// replaceSession installs a new session, closing any previous one.
func (svc *Service) replaceSession(sess *session.Session) {
	svc.mu.Lock()
	old := svc.session
	svc.session = sess
	svc.mu.Unlock()
	if old != nil {
		old.Lock()
		old.Close()
		old.Unlock()
	}
}

// Close tears down the active session.
func (svc *Service) Close() {
	svc.mu.Lock()
	sess := svc.session
	svc.session = nil
	svc.mu.Unlock()
	if sess != nil {
		sess.Lock()
		sess.Close()
		sess.Unlock()
	}
}
