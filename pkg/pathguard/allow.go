package pathguard

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AllowList is either the special value "all" or an explicit list of entries.
type AllowList struct {
	All   bool
	Items []string
}

// AllowAll returns the permissive list.
func AllowAll() AllowList { return AllowList{All: true} }

// AllowOnly returns a list restricted to the given entries.
func AllowOnly(items ...string) AllowList { return AllowList{Items: items} }

// MatchesGlob reports whether path (canonical, absolute) is authorized by the
// list, matching each entry as a doublestar glob against the path relative to
// workspaceRoot.
func (a AllowList) MatchesGlob(path, workspaceRoot string) bool {
	if a.All {
		return true
	}
	rel, err := filepath.Rel(workspaceRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range a.Items {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// CommandToken extracts the first whitespace-separated token of a command,
// stripping a leading "./".
func CommandToken(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimPrefix(fields[0], "./")
}

// MatchesCommand reports whether the command's first token is authorized.
func (a AllowList) MatchesCommand(command string) bool {
	if a.All {
		return true
	}
	token := CommandToken(command)
	if token == "" {
		return false
	}
	for _, allowed := range a.Items {
		if token == strings.TrimPrefix(allowed, "./") {
			return true
		}
	}
	return false
}
