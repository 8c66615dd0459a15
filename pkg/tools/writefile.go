package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/deskhand/deskhand/pkg/editor"
	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/filecache"
	"github.com/deskhand/deskhand/pkg/logger"
	"github.com/deskhand/deskhand/pkg/pathguard"
	"github.com/deskhand/deskhand/pkg/session"
)

// FileWriteOrEdit routes a request to a whole-file write
// (percentage_to_change > 50) or a search/replace edit (<= 50), commits the
// result atomically, and refreshes the ledger and whitelist.
func (svc *Service) FileWriteOrEdit(ctx context.Context, in FileWriteOrEditInput) (string, error) {
	var message string
	err := svc.withSession(in.ThreadID, func(sess *session.Session) error {
		var err error
		message, err = svc.writeOrEdit(ctx, sess, in)
		return err
	})
	return message, err
}

func (svc *Service) writeOrEdit(ctx context.Context, sess *session.Session, in FileWriteOrEditInput) (string, error) {
	resolved := pathguard.Resolve(in.FilePath, sess.CWD)
	canonical, err := pathguard.ValidateForWrite(resolved, sess.WorkspaceRoot)
	if err != nil {
		return "", fault.Wrap(fault.PathSecurity, err, "path rejected")
	}
	if err := sess.CheckWrite(canonical); err != nil {
		return "", err
	}

	if in.PercentageToChange > 50 {
		return svc.wholeRewrite(sess, canonical, in.TextOrSearchReplaceBlocks)
	}
	return svc.applyEdit(ctx, sess, canonical, in.TextOrSearchReplaceBlocks)
}

// wholeRewrite replaces the file verbatim. This is the only path permitted
// without a prior read; the whitelist entry is re-established from the
// written bytes.
func (svc *Service) wholeRewrite(sess *session.Session, canonical, text string) (string, error) {
	data := []byte(text)
	if int64(len(data)) > svc.cfg.MaxFileSize {
		return "", fault.New(fault.FileTooLarge,
			"content is %d bytes, exceeding the %d byte limit", len(data), svc.cfg.MaxFileSize)
	}
	if err := editor.WriteAtomic(canonical, data, 0o644); err != nil {
		return "", fault.Wrap(fault.FileAccess, err, "writing %s", canonical)
	}
	svc.commit(sess, canonical, data, false)
	return fmt.Sprintf("Successfully wrote %s", canonical), nil
}

func (svc *Service) applyEdit(ctx context.Context, sess *session.Session, canonical, body string) (string, error) {
	info, err := os.Stat(canonical)
	if err != nil {
		return "", fault.Wrap(fault.FileAccess, err, "file must exist for an edit (percentage_to_change <= 50)")
	}
	if info.Size() > svc.cfg.MaxFileSize {
		return "", fault.New(fault.FileTooLarge,
			"file is %d bytes, exceeding the %d byte limit", info.Size(), svc.cfg.MaxFileSize)
	}

	content, err := os.ReadFile(canonical)
	if err != nil {
		return "", fault.Wrap(fault.FileAccess, err, "reading %s", canonical)
	}

	// Read-before-write: the whitelist entry must exist and its hash must
	// match the file's current content.
	entry, ok := sess.Whitelist[canonical]
	if !ok {
		return "", fault.New(fault.ReadBeforeWrite, "read %s before editing it", canonical)
	}
	currentHash := filecache.HashBytes(content)
	if entry.Hash != currentHash {
		return "", fault.New(fault.ReadBeforeWrite,
			"%s changed since it was last read; read it again before editing", canonical)
	}
	// The ledger check only applies while the cache still holds the entry;
	// after eviction the whitelist hash match above is the authority.
	if _, cached := svc.cache.Hash(canonical); cached && !svc.cache.CanOverwrite(canonical) {
		if denial := svc.cache.OverwriteDenial(canonical); denial != "" {
			return "", fault.New(fault.ReadBeforeWrite, "%s: %s", canonical, denial)
		}
	}

	blocks, err := editor.ParseBlocks(body)
	if err != nil {
		return "", err
	}
	updated, err := svc.engine.ApplyBlocks(ctx, string(content), blocks)
	if err != nil {
		return "", err
	}

	perm := info.Mode().Perm()
	if err := editor.WriteAtomic(canonical, []byte(updated), perm); err != nil {
		return "", fault.Wrap(fault.FileAccess, err, "writing %s", canonical)
	}
	svc.commit(sess, canonical, []byte(updated), true)
	return fmt.Sprintf("Successfully edited %s", canonical), nil
}

// commit updates the ledger and whitelist after a successful write: the file
// is considered fully read for subsequent edits.
func (svc *Service) commit(sess *session.Session, canonical string, data []byte, edit bool) {
	svc.cache.RecordWrite(canonical, data)
	if edit {
		svc.cache.RecordEdit(canonical)
	}
	sess.RecordWrite(canonical, filecache.HashBytes(data), filecache.CountLines(data))
	logger.DebugCF("editor", "file committed", map[string]any{
		"path":  canonical,
		"bytes": len(data),
		"edit":  edit,
	})
}
