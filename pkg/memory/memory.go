// Package memory persists task context for later resumption.
//
// Each saved task produces two files under <app-data>/memory/: a UTF-8 text
// memory file (<id>.txt) with the description, globs and file contents, and a
// JSON snapshot (<id>_bash_state.json) of the session's bash state.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/logger"
	"github.com/deskhand/deskhand/pkg/pathguard"
)

const (
	// maxFilesPerGlob bounds expansion of a single glob pattern.
	maxFilesPerGlob = 1000
	// maxFilesRead bounds the total number of file bodies embedded in a
	// memory file.
	maxFilesRead = 10000
)

var projectRootLine = regexp.MustCompile(`^# PROJECT ROOT = "(.*)"\s*$`)

// Snapshot is the persisted bash state.
type Snapshot struct {
	CWD           string `json:"cwd"`
	WorkspaceRoot string `json:"workspace_root"`
	Mode          string `json:"mode"`
}

// TaskContext describes what to save.
type TaskContext struct {
	ID          string
	ProjectRoot string
	Description string
	Globs       []string
}

// Dir returns the memory directory under the app data dir, creating it.
func Dir(appData string) (string, error) {
	dir := filepath.Join(appData, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating memory directory %s", dir)
	}
	return dir, nil
}

// CollectFiles expands the globs (relative ones against projectRoot) and
// returns matching regular files plus a warning per empty glob.
func CollectFiles(projectRoot string, globs []string) (files []string, warnings []string) {
	for _, pattern := range globs {
		expanded := pathguard.ExpandUser(pattern)
		if !filepath.IsAbs(expanded) && projectRoot != "" {
			expanded = filepath.Join(projectRoot, expanded)
		}

		matches, err := doublestar.FilepathGlob(expanded)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Warning: invalid glob %q: %v", pattern, err))
			continue
		}
		found := 0
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			files = append(files, m)
			found++
			if found >= maxFilesPerGlob {
				logger.WarnCF("memory", "glob hit file limit", map[string]any{"glob": pattern})
				break
			}
		}
		if found == 0 {
			warnings = append(warnings, fmt.Sprintf("Warning: No files found for the glob: %s", pattern))
		}
	}
	return files, warnings
}

// Format renders the memory file body.
func Format(ctx TaskContext, files []string) string {
	var sb strings.Builder

	if ctx.ProjectRoot != "" {
		fmt.Fprintf(&sb, "# PROJECT ROOT = %q\n\n", ctx.ProjectRoot)
	}
	sb.WriteString(ctx.Description)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Relevant file globs: %s\n\n", strings.Join(ctx.Globs, ", "))
	sb.WriteString("File contents:\n\n")

	for i, path := range files {
		if i >= maxFilesRead {
			fmt.Fprintf(&sb, "Note: Only showing the first %d files out of %d.\n", maxFilesRead, len(files))
			break
		}
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&sb, "--- File %d: %s ---\n(unreadable: %v)\n\n", i+1, path, err)
			continue
		}
		fmt.Fprintf(&sb, "--- File %d: %s ---\n%s\n\n", i+1, path, content)
	}
	return sb.String()
}

// Save writes the memory file and bash-state snapshot. It returns the memory
// file path; when a glob is invalid or matched nothing, it returns the glob
// warnings followed by a line naming the saved path instead.
func Save(appData string, ctx TaskContext, snap Snapshot) (string, error) {
	if ctx.ID == "" {
		return "", fault.New(fault.ConfigError, "task id cannot be empty")
	}
	dir, err := Dir(appData)
	if err != nil {
		return "", err
	}

	files, warnings := CollectFiles(ctx.ProjectRoot, ctx.Globs)
	body := Format(ctx, files)

	memoryPath := filepath.Join(dir, ctx.ID+".txt")
	if err := os.WriteFile(memoryPath, []byte(body), 0o644); err != nil {
		return "", errors.Wrapf(err, "writing memory file %s", memoryPath)
	}

	stateJSON, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "serializing bash state")
	}
	statePath := filepath.Join(dir, ctx.ID+"_bash_state.json")
	if err := os.WriteFile(statePath, stateJSON, 0o644); err != nil {
		return "", errors.Wrapf(err, "writing bash state %s", statePath)
	}

	logger.InfoCF("memory", "task context saved", map[string]any{
		"id":    ctx.ID,
		"files": len(files),
	})
	if len(warnings) > 0 {
		return strings.Join(warnings, "\n") + "\n\nContext file successfully saved at " + memoryPath, nil
	}
	return memoryPath, nil
}

// Load returns the memory file content and the bash-state snapshot for id.
func Load(appData, id string) (string, Snapshot, error) {
	dir := filepath.Join(appData, "memory")
	memoryPath := filepath.Join(dir, id+".txt")

	content, err := os.ReadFile(memoryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", Snapshot{}, fault.New(fault.ResumeNotFound, "no saved context for task id %q", id)
		}
		return "", Snapshot{}, fault.Wrap(fault.FileAccess, err, "reading %s", memoryPath)
	}

	var snap Snapshot
	stateBytes, err := os.ReadFile(filepath.Join(dir, id+"_bash_state.json"))
	if err == nil {
		if err := json.Unmarshal(stateBytes, &snap); err != nil {
			logger.WarnCF("memory", "bash state unreadable", map[string]any{"id": id, "error": err.Error()})
			snap = Snapshot{}
		}
	}
	return string(content), snap, nil
}

// ParseProjectRoot extracts the workspace path from a memory file's leading
// project-root line.
func ParseProjectRoot(content string) (string, bool) {
	line, _, _ := strings.Cut(content, "\n")
	if m := projectRootLine.FindStringSubmatch(line); m != nil && m[1] != "" {
		return m[1], true
	}
	return "", false
}
