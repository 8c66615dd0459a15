package shell

import (
	"fmt"
	"strings"
	"time"
)

// Command classification, used to warn about (or refuse) submissions that
// would hang the PTY waiting for input, and to suggest read deadlines.

// alwaysInteractive commands hold the terminal regardless of arguments.
var alwaysInteractive = []string{
	// Editors
	"vim", "vi", "nano", "emacs", "code", "subl",
	// Database shells
	"mysql", "psql", "sqlite3", "redis-cli", "mongo",
	// Pagers
	"less", "more", "view",
	// Monitors
	"top", "htop", "watch", "tail -f",
	// Version control interactive
	"git rebase -i", "git add -i",
	// REPL-only interpreters
	"irb", "ghci", "scala",
}

// bareInteractive interpreters drop into a REPL only when invoked without a
// script argument.
var bareInteractive = []string{"python", "python3", "node", "nodejs", "ruby"}

var longRunningCommands = []string{
	"make", "cargo build", "npm install", "pip install", "yarn install",
	"gcc", "g++", "clang", "rustc", "javac",
	"apt-get", "yum", "brew install", "pacman",
	"wget", "curl", "rsync", "scp",
	"tar", "zip", "unzip", "gzip",
}

var backgroundCommands = []string{
	"python -m http.server", "node server", "rails server", "cargo run",
	"nohup", "screen", "tmux",
	"systemctl start", "service start",
}

const defaultCommandTimeout = 30 * time.Second

func normalizeCommand(command string) string {
	return strings.ToLower(strings.TrimSpace(command))
}

// startsWithWord reports whether s begins with prefix followed by a word
// boundary.
func startsWithWord(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	rest := s[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "\t")
}

// IsInteractive reports whether a command is likely to sit waiting for input.
func IsInteractive(command string) bool {
	normalized := normalizeCommand(command)
	for _, c := range alwaysInteractive {
		if startsWithWord(normalized, c) {
			return true
		}
	}
	for _, c := range bareInteractive {
		if normalized == c {
			return true
		}
	}

	// git commit without a message flag opens an editor.
	if startsWithWord(normalized, "git commit") &&
		!strings.Contains(normalized, "-m") && !strings.Contains(normalized, "--message") {
		return true
	}
	// docker run without detach attaches to the container.
	if startsWithWord(normalized, "docker run") &&
		!strings.Contains(normalized, "-d") && !strings.Contains(normalized, "--detach") {
		return true
	}
	// ssh opens a login session unless a remote command follows; a remote
	// command is only recognized after a " -- " separator.
	if normalized == "ssh" || (strings.HasPrefix(normalized, "ssh ") && !strings.Contains(normalized, " -- ")) {
		return true
	}
	if strings.HasPrefix(normalized, "ftp ") || strings.HasPrefix(normalized, "sftp ") {
		return true
	}
	return false
}

// IsLongRunning reports whether a command typically takes minutes.
func IsLongRunning(command string) bool {
	normalized := normalizeCommand(command)
	for _, c := range longRunningCommands {
		if startsWithWord(normalized, c) {
			return true
		}
	}
	return false
}

// IsBackground reports whether a command spawns or implies background work.
func IsBackground(command string) bool {
	normalized := normalizeCommand(command)
	if strings.HasSuffix(normalized, "&") || strings.Contains(normalized, " &") {
		return true
	}
	for _, c := range backgroundCommands {
		if startsWithWord(normalized, c) {
			return true
		}
	}
	return false
}

// SuggestedTimeout returns a read deadline suited to the command's class.
func SuggestedTimeout(command string) time.Duration {
	switch {
	case IsLongRunning(command):
		return 5 * time.Minute
	case IsBackground(command):
		return time.Minute
	default:
		return defaultCommandTimeout
	}
}

// Warnings returns advisory notes to include in the command result.
func Warnings(command string) []string {
	var warnings []string
	if IsInteractive(command) {
		warnings = append(warnings,
			fmt.Sprintf("command %q appears to be interactive and may hang waiting for input; consider non-interactive flags", command))
	}
	if IsLongRunning(command) {
		warnings = append(warnings,
			fmt.Sprintf("command %q may take a long time; use status_check to monitor progress", command))
	}
	if IsBackground(command) {
		warnings = append(warnings,
			fmt.Sprintf("command %q may spawn background processes", command))
	}
	return warnings
}
