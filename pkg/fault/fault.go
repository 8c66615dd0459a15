// Package fault defines the error taxonomy shared by every deskhand tool.
//
// Tool handlers return *fault.Error so the transport layer can surface a
// stable kind to the caller; internal packages wrap causes with pkg/errors
// and tag them with a kind at the tool boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a tool failure. The set is closed; callers switch on it.
type Kind int

const (
	// Unknown is the zero kind; it never leaves a tool handler on purpose.
	Unknown Kind = iota
	// PathSecurity covers traversal, symlink escapes and canonicalization failures.
	PathSecurity
	// FileAccess is an I/O failure or a missing file.
	FileAccess
	// FileTooLarge means the file exceeds the configured per-file maximum.
	FileTooLarge
	// ReadBeforeWrite means an edit was attempted on a file that was not read
	// first, or whose recorded hash no longer matches the on-disk content.
	ReadBeforeWrite
	// SearchReplaceSyntax means the search/replace block markers are malformed.
	SearchReplaceSyntax
	// SearchBlockNotFound means no exact or fuzzy match reached the threshold.
	SearchBlockNotFound
	// SearchBlockAmbiguous means a search block matched more than once.
	SearchBlockAmbiguous
	// ShellDead means the PTY reader ended; the shell must be recreated.
	ShellDead
	// NoRunningCommand is a status check while the shell is idle.
	NoRunningCommand
	// InteractiveRefused means a command was classified as interactive and
	// the active policy disallows it.
	InteractiveRefused
	// ModeForbidden is a mode policy rejection (e.g. writes in architect mode).
	ModeForbidden
	// CommandNotAllowed means the command's first token is outside the
	// code-writer allow-list.
	CommandNotAllowed
	// ThreadIdMismatch means the call carried a thread id for another session.
	ThreadIdMismatch
	// ConfigError means invalid initialize parameters.
	ConfigError
	// ResumeNotFound means the task id has no persisted memory.
	ResumeNotFound
)

var kindNames = map[Kind]string{
	Unknown:              "unknown",
	PathSecurity:         "path_security",
	FileAccess:           "file_access",
	FileTooLarge:         "file_too_large",
	ReadBeforeWrite:      "read_before_write",
	SearchReplaceSyntax:  "search_replace_syntax",
	SearchBlockNotFound:  "search_block_not_found",
	SearchBlockAmbiguous: "search_block_ambiguous",
	ShellDead:            "shell_dead",
	NoRunningCommand:     "no_running_command",
	InteractiveRefused:   "interactive_refused",
	ModeForbidden:        "mode_forbidden",
	CommandNotAllowed:    "command_not_allowed",
	ThreadIdMismatch:     "thread_id_mismatch",
	ConfigError:          "config_error",
	ResumeNotFound:       "resume_not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a tagged tool failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// MatchCount is set for SearchBlockAmbiguous.
	MatchCount int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two faults by kind.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}

// New builds a fault with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind. Returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Ambiguous builds the SearchBlockAmbiguous fault carrying the match count.
func Ambiguous(count int, format string, args ...any) *Error {
	return &Error{Kind: SearchBlockAmbiguous, Msg: fmt.Sprintf(format, args...), MatchCount: count}
}

// KindOf extracts the kind from an error chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
