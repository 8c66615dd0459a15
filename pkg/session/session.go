// Package session holds per-thread state: the owned shell, the file
// whitelist, background jobs, and the mode policy.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/filecache"
	"github.com/deskhand/deskhand/pkg/pathguard"
	"github.com/deskhand/deskhand/pkg/shell"
)

// Mode selects the policy applied to file writes and shell commands.
type Mode string

const (
	// ModeWcgw is unrestricted within the workspace.
	ModeWcgw Mode = "wcgw"
	// ModeArchitect is read-only: writes rejected, shell limited to a
	// read-only command whitelist.
	ModeArchitect Mode = "architect"
	// ModeCodeWriter restricts writes to allowed globs and commands to an
	// allow-list; requires a CodeWriterConfig.
	ModeCodeWriter Mode = "code_writer"
)

// ParseMode validates a mode name.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeWcgw, ModeArchitect, ModeCodeWriter:
		return Mode(name), nil
	}
	return "", fault.New(fault.ConfigError, "unknown mode %q (want wcgw, architect or code_writer)", name)
}

// CodeWriterConfig is the allow-list policy for code_writer mode.
type CodeWriterConfig struct {
	AllowedGlobs    pathguard.AllowList
	AllowedCommands pathguard.AllowList
}

// architectCommands is the read-only whitelist applied in architect mode,
// matched against the command's first token.
var architectCommands = pathguard.AllowOnly(
	"ls", "cat", "head", "tail", "grep", "rg", "find", "fd", "pwd", "echo",
	"wc", "file", "stat", "du", "df", "tree", "which", "env", "date",
	"whoami", "uname", "readlink", "realpath", "diff", "sort", "uniq", "cut", "awk", "sed",
)

// FileWhitelistData records what was known about a file when it was read;
// an overwrite is only permitted against a matching entry.
type FileWhitelistData struct {
	Hash       string
	Ranges     []filecache.Range
	TotalLines int
}

// BgJob tracks one background command.
type BgJob struct {
	ID        string
	Command   string
	PID       int
	StartedAt time.Time
	Finished  bool
}

// Session is the per-thread state. All mutation is serialized behind the
// per-session mutex (Lock/Unlock), which the tool layer holds for the whole
// call; the other methods do not lock.
type Session struct {
	ThreadID      string
	WorkspaceRoot string
	CWD           string
	Mode          Mode
	CodeWriter    *CodeWriterConfig

	Whitelist map[string]FileWhitelistData
	BgJobs    map[string]*BgJob

	Shell *shell.Supervisor

	Initialized bool
	bgCounter   int

	mu sync.Mutex
}

// New creates an empty session for a thread id.
func New(threadID string) *Session {
	return &Session{
		ThreadID:  threadID,
		Mode:      ModeWcgw,
		Whitelist: make(map[string]FileWhitelistData),
		BgJobs:    make(map[string]*BgJob),
	}
}

// Lock serializes tool calls against this session. A tool call holds it for
// the duration of the call.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

// CheckThread rejects calls carrying another session's thread id.
func (s *Session) CheckThread(threadID string) error {
	if threadID != s.ThreadID {
		return fault.New(fault.ThreadIdMismatch,
			"thread id %q does not match the current session %q", threadID, s.ThreadID)
	}
	return nil
}

// SetMode applies a mode change; code_writer requires a config.
func (s *Session) SetMode(mode Mode, cw *CodeWriterConfig) error {
	if mode == ModeCodeWriter && cw == nil {
		return fault.New(fault.ConfigError, "code_writer mode requires a code_writer_config")
	}
	s.Mode = mode
	if mode == ModeCodeWriter {
		s.CodeWriter = cw
	} else {
		s.CodeWriter = nil
	}
	return nil
}

// Restricted reports whether the shell should run in bash restricted mode.
func (s *Session) Restricted() bool { return s.Mode == ModeArchitect }

// CheckWrite enforces the mode policy for a write or edit of canonicalPath.
func (s *Session) CheckWrite(canonicalPath string) error {
	switch s.Mode {
	case ModeArchitect:
		return fault.New(fault.ModeForbidden, "writes are not permitted in architect mode")
	case ModeCodeWriter:
		if !s.CodeWriter.AllowedGlobs.MatchesGlob(canonicalPath, s.WorkspaceRoot) {
			return fault.New(fault.ModeForbidden,
				"path %s does not match any allowed glob", canonicalPath)
		}
	}
	return nil
}

// CheckCommand enforces the mode policy for a shell command.
func (s *Session) CheckCommand(command string) error {
	switch s.Mode {
	case ModeArchitect:
		if !architectCommands.MatchesCommand(command) {
			return fault.New(fault.CommandNotAllowed,
				"command %q is not in the architect read-only whitelist", pathguard.CommandToken(command))
		}
	case ModeCodeWriter:
		if !s.CodeWriter.AllowedCommands.MatchesCommand(command) {
			return fault.New(fault.CommandNotAllowed,
				"command %q is not in the allowed command list", pathguard.CommandToken(command))
		}
	}
	return nil
}

// EnsureShell creates the shell if it is missing or dead.
func (s *Session) EnsureShell(opts shell.Options) error {
	if s.Shell != nil && s.Shell.Alive() {
		return nil
	}
	if s.Shell != nil {
		_ = s.Shell.Close()
	}
	opts.Restricted = s.Restricted()
	sh, err := shell.New(s.CWD, opts)
	if err != nil {
		return fault.Wrap(fault.ShellDead, err, "creating shell")
	}
	s.Shell = sh
	return nil
}

// NextBgID allocates a session-unique background job id.
func (s *Session) NextBgID() string {
	s.bgCounter++
	return fmt.Sprintf("bg_%d", s.bgCounter)
}

// RecordRead refreshes the whitelist entry for a successfully read file.
func (s *Session) RecordRead(canonicalPath, hash string, ranges []filecache.Range, totalLines int) {
	existing, ok := s.Whitelist[canonicalPath]
	if ok && existing.Hash == hash && existing.TotalLines == totalLines {
		existing.Ranges = append(existing.Ranges, ranges...)
		s.Whitelist[canonicalPath] = existing
		return
	}
	s.Whitelist[canonicalPath] = FileWhitelistData{
		Hash:       hash,
		Ranges:     ranges,
		TotalLines: totalLines,
	}
}

// RecordWrite replaces the whitelist entry after a successful write so the
// file counts as fully read for subsequent edits.
func (s *Session) RecordWrite(canonicalPath, hash string, totalLines int) {
	var ranges []filecache.Range
	if totalLines > 0 {
		ranges = []filecache.Range{{Start: 1, End: totalLines}}
	}
	s.Whitelist[canonicalPath] = FileWhitelistData{
		Hash:       hash,
		Ranges:     ranges,
		TotalLines: totalLines,
	}
}

// Close releases owned resources.
func (s *Session) Close() {
	if s.Shell != nil {
		_ = s.Shell.Close()
		s.Shell = nil
	}
}
