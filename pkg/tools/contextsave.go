package tools

import (
	"context"

	"github.com/deskhand/deskhand/pkg/memory"
	"github.com/deskhand/deskhand/pkg/pathguard"
	"github.com/deskhand/deskhand/pkg/session"
)

// ContextSave persists the task description, matching file contents and the
// session's bash state under the app data directory.
func (svc *Service) ContextSave(ctx context.Context, in ContextSaveInput) (string, error) {
	var result string
	err := svc.withSession(in.ThreadID, func(sess *session.Session) error {
		projectRoot := pathguard.ExpandUser(in.ProjectRootPath)
		if projectRoot == "" {
			projectRoot = sess.WorkspaceRoot
		}

		var err error
		result, err = memory.Save(svc.cfg.AppDataDir(), memory.TaskContext{
			ID:          in.ID,
			ProjectRoot: projectRoot,
			Description: in.Description,
			Globs:       in.RelevantFileGlobs,
		}, memory.Snapshot{
			CWD:           sess.CWD,
			WorkspaceRoot: sess.WorkspaceRoot,
			Mode:          string(sess.Mode),
		})
		return err
	})
	return result, err
}
