package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/logger"
	"github.com/deskhand/deskhand/pkg/memory"
	"github.com/deskhand/deskhand/pkg/pathguard"
	"github.com/deskhand/deskhand/pkg/session"
	"github.com/deskhand/deskhand/pkg/shell"
)

// allowListFrom maps the wire form (["all"] or explicit entries) to a policy
// list.
func allowListFrom(items []string) pathguard.AllowList {
	if len(items) == 1 && items[0] == "all" {
		return pathguard.AllowAll()
	}
	return pathguard.AllowOnly(items...)
}

func codeWriterFrom(in *CodeWriterConfigInput) *session.CodeWriterConfig {
	if in == nil {
		return nil
	}
	return &session.CodeWriterConfig{
		AllowedGlobs:    allowListFrom(in.AllowedGlobs),
		AllowedCommands: allowListFrom(in.AllowedCommands),
	}
}

// resolveWorkspace canonicalizes any_workspace_path; a file selects its
// parent directory as the workspace.
func resolveWorkspace(anyPath string) (string, error) {
	expanded := pathguard.ExpandUser(anyPath)
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fault.Wrap(fault.PathSecurity, err, "workspace path %s must exist", anyPath)
	}
	if !info.IsDir() {
		expanded = filepath.Dir(expanded)
	}
	canonical, err := filepath.EvalSymlinks(expanded)
	if err != nil {
		return "", fault.Wrap(fault.PathSecurity, err, "resolving workspace %s", expanded)
	}
	return filepath.Abs(canonical)
}

// Initialize creates, reconfigures or resumes the session.
func (svc *Service) Initialize(ctx context.Context, in InitializeInput) (string, error) {
	mode, err := session.ParseMode(in.ModeName)
	if err != nil {
		return "", err
	}
	cw := codeWriterFrom(in.CodeWriterConfig)

	switch in.InitType {
	case InitFirstCall:
		return svc.initFirstCall(ctx, in, mode, cw)
	case InitModeChange:
		return svc.initModeChange(ctx, in, mode, cw)
	case InitResumeTask:
		return svc.initResumeTask(ctx, in, mode, cw)
	default:
		return "", fault.New(fault.ConfigError,
			"unknown init_type %q (want first_call, mode_change or resume_task)", in.InitType)
	}
}

func (svc *Service) initFirstCall(ctx context.Context, in InitializeInput, mode session.Mode, cw *session.CodeWriterConfig) (string, error) {
	workspace, err := resolveWorkspace(in.AnyWorkspacePath)
	if err != nil {
		return "", err
	}

	threadID := in.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	sess := session.New(threadID)
	sess.WorkspaceRoot = workspace
	sess.CWD = workspace
	if err := sess.SetMode(mode, cw); err != nil {
		return "", err
	}
	if err := sess.EnsureShell(svc.shellOptions()); err != nil {
		return "", err
	}
	sess.Initialized = true
	svc.replaceSession(sess)

	logger.InfoCF("session", "session initialized", map[string]any{
		"thread_id": threadID,
		"workspace": workspace,
		"mode":      string(mode),
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Initialized session.\nthread_id: %s\nworkspace: %s\nmode: %s\n", threadID, workspace, mode)
	sb.WriteString(workspaceSummary(workspace))
	svc.appendInitialFiles(&sb, sess, in.InitialFilesToRead)
	return sb.String(), nil
}

func (svc *Service) initModeChange(ctx context.Context, in InitializeInput, mode session.Mode, cw *session.CodeWriterConfig) (string, error) {
	sess, err := svc.current()
	if err != nil {
		return "", err
	}
	sess.Lock()
	defer sess.Unlock()
	if err := sess.CheckThread(in.ThreadID); err != nil {
		return "", err
	}

	wasRestricted := sess.Restricted()
	if err := sess.SetMode(mode, cw); err != nil {
		return "", err
	}
	// Restriction is a shell start flag; flipping it needs a fresh shell.
	if sess.Restricted() != wasRestricted && sess.Shell != nil {
		_ = sess.Shell.Close()
		sess.Shell = nil
	}
	if err := sess.EnsureShell(svc.shellOptions()); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Mode changed.\nthread_id: %s\nworkspace: %s\nmode: %s\n", sess.ThreadID, sess.WorkspaceRoot, mode)
	svc.appendInitialFiles(&sb, sess, in.InitialFilesToRead)
	return sb.String(), nil
}

func (svc *Service) initResumeTask(ctx context.Context, in InitializeInput, mode session.Mode, cw *session.CodeWriterConfig) (string, error) {
	if in.TaskIDToResume == "" {
		return "", fault.New(fault.ConfigError, "resume_task requires task_id_to_resume")
	}
	content, snap, err := memory.Load(svc.cfg.AppDataDir(), in.TaskIDToResume)
	if err != nil {
		return "", err
	}

	workspace := snap.WorkspaceRoot
	if workspace == "" {
		if root, ok := memory.ParseProjectRoot(content); ok {
			workspace = root
		}
	}
	if workspace == "" {
		workspace = in.AnyWorkspacePath
	}
	canonical, err := resolveWorkspace(workspace)
	if err != nil {
		return "", err
	}

	if snap.Mode != "" {
		if restored, err := session.ParseMode(snap.Mode); err == nil {
			mode = restored
		}
	}

	threadID := in.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	sess := session.New(threadID)
	sess.WorkspaceRoot = canonical
	sess.CWD = canonical
	if snap.CWD != "" {
		if cwd, err := pathguard.ValidateInWorkspace(snap.CWD, canonical); err == nil {
			sess.CWD = cwd
		}
	}
	if err := sess.SetMode(mode, cw); err != nil {
		return "", err
	}
	if err := sess.EnsureShell(svc.shellOptions()); err != nil {
		return "", err
	}
	sess.Initialized = true
	svc.replaceSession(sess)

	logger.InfoCF("session", "task resumed", map[string]any{
		"thread_id": threadID,
		"task_id":   in.TaskIDToResume,
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Resumed task %q.\nthread_id: %s\nworkspace: %s\nmode: %s\n\n",
		in.TaskIDToResume, threadID, canonical, mode)
	sb.WriteString("Saved context:\n")
	sb.WriteString(clampChars(content, svc.cfg.ReadBudgetChars))
	svc.appendInitialFiles(&sb, sess, in.InitialFilesToRead)
	return sb.String(), nil
}

func (svc *Service) shellOptions() shell.Options {
	return shell.Options{
		MaxOutput: svc.cfg.MaxOutputSize,
		Grace:     svc.cfg.PromptGrace,
	}
}

// appendInitialFiles reads the requested files into the summary, best-effort.
func (svc *Service) appendInitialFiles(sb *strings.Builder, sess *session.Session, paths []string) {
	if len(paths) == 0 {
		return
	}
	nulls := make([]*int, len(paths))
	message, _ := svc.readFilesLocked(sess, ReadFilesInput{
		FilePaths:     paths,
		StartLineNums: nulls,
		EndLineNums:   nulls,
	})
	sb.WriteString("\nRequested files:\n")
	sb.WriteString(message)
}

// workspaceSummary lists the workspace's top-level entries with sizes.
func workspaceSummary(workspace string) string {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return ""
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	sb.WriteString("\nWorkspace contents:\n")
	const maxEntries = 40
	for i, entry := range entries {
		if i >= maxEntries {
			fmt.Fprintf(&sb, "  ... and %d more entries\n", len(entries)-maxEntries)
			break
		}
		if entry.IsDir() {
			fmt.Fprintf(&sb, "  %s/\n", entry.Name())
			continue
		}
		size := ""
		if info, err := entry.Info(); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(&sb, "  %s (%s)\n", entry.Name(), size)
	}
	return sb.String()
}

func clampChars(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n(...truncated)"
}
