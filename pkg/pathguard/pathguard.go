// Package pathguard canonicalizes tool-supplied paths and enforces that they
// stay inside the session workspace.
//
// The guard checks on-disk symlink metadata before canonicalization so that a
// symlink escape cannot be masked by canonicalization following the link.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel causes for validation failures. All of them surface to tool
// callers as a path-security fault; tests and callers discriminate with
// errors.Is.
var (
	ErrPathTraversal    = errors.New("path escapes workspace root")
	ErrSymlinkEscape    = errors.New("symlink target escapes workspace root")
	ErrCanonicalization = errors.New("path cannot be canonicalized")
)

// ExpandUser replaces a leading ~ with the current user's home directory.
func ExpandUser(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// Resolve expands a possibly-relative, possibly-tilde-prefixed input against
// cwd. No filesystem access; the result is lexically absolute.
func Resolve(path, cwd string) string {
	p := ExpandUser(path)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, p)
}

// contains reports whether path is root or lies under it. Both arguments must
// already be canonical absolute paths.
func contains(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// checkSymlink fails when path itself is a symlink whose target resolves
// outside the canonical workspace root.
func checkSymlink(path, canonicalRoot string) error {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	target, err := os.Readlink(path)
	if err != nil {
		return nil
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	canonicalTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		// Dangling link; canonicalization of the path itself reports it.
		return nil
	}
	if !contains(canonicalRoot, canonicalTarget) {
		return errors.Wrapf(ErrSymlinkEscape, "%s -> %s", path, canonicalTarget)
	}
	return nil
}

func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", errors.Wrapf(ErrCanonicalization, "%s: %v", path, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", errors.Wrapf(ErrCanonicalization, "%s: %v", path, err)
	}
	return abs, nil
}

// ValidateInWorkspace canonicalizes path and verifies it lies under
// workspaceRoot. The path must exist. Returns the canonical path.
func ValidateInWorkspace(path, workspaceRoot string) (string, error) {
	canonicalRoot, err := canonicalize(workspaceRoot)
	if err != nil {
		return "", err
	}
	if err := checkSymlink(path, canonicalRoot); err != nil {
		return "", err
	}
	canonical, err := canonicalize(path)
	if err != nil {
		return "", err
	}
	if !contains(canonicalRoot, canonical) {
		return "", errors.Wrapf(ErrPathTraversal, "%s outside %s", canonical, canonicalRoot)
	}
	return canonical, nil
}

// ValidateForWrite is ValidateInWorkspace for a path that may not exist yet:
// the parent directory is canonicalized and checked, and the final component
// re-joined. An existing path is validated directly.
func ValidateForWrite(path, workspaceRoot string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		return ValidateInWorkspace(path, workspaceRoot)
	}
	canonicalRoot, err := canonicalize(workspaceRoot)
	if err != nil {
		return "", err
	}
	parent, err := canonicalize(filepath.Dir(path))
	if err != nil {
		return "", err
	}
	if !contains(canonicalRoot, parent) {
		return "", errors.Wrapf(ErrPathTraversal, "%s outside %s", parent, canonicalRoot)
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}
