package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/filecache"
	"github.com/deskhand/deskhand/pkg/pathguard"
	"github.com/deskhand/deskhand/pkg/session"
)

// ReadFiles reads the requested files (optionally bounded to line ranges),
// records the read ranges in the ledger and refreshes the session whitelist.
func (svc *Service) ReadFiles(ctx context.Context, in ReadFilesInput) (string, error) {
	var message string
	err := svc.withSession(in.ThreadID, func(sess *session.Session) error {
		var err error
		message, err = svc.readFilesLocked(sess, in)
		return err
	})
	return message, err
}

// readFilesLocked does the work with the session mutex already held; the
// initialize handler reuses it for initial_files_to_read.
func (svc *Service) readFilesLocked(sess *session.Session, in ReadFilesInput) (string, error) {
	var sb strings.Builder
	budget := svc.cfg.ReadBudgetChars

	for i, requested := range in.FilePaths {
		var start, end *int
		if i < len(in.StartLineNums) {
			start = in.StartLineNums[i]
		}
		if i < len(in.EndLineNums) {
			end = in.EndLineNums[i]
		}

		block, truncated, err := svc.readOne(sess, requested, start, end, budget-sb.Len())
		if err != nil {
			fmt.Fprintf(&sb, "\nError reading %s: %v", requested, err)
			continue
		}
		sb.WriteString(block)
		if truncated {
			sb.WriteString("\n(...remaining files skipped due to output limit)")
			break
		}
	}
	return sb.String(), nil
}

// readOne reads a single file and returns its formatted block.
func (svc *Service) readOne(sess *session.Session, requested string, startNum, endNum *int, budget int) (string, bool, error) {
	resolved := pathguard.Resolve(requested, sess.CWD)
	if _, err := os.Stat(resolved); err != nil {
		return "", false, fault.Wrap(fault.FileAccess, err, "file does not exist")
	}
	canonical, err := pathguard.ValidateInWorkspace(resolved, sess.WorkspaceRoot)
	if err != nil {
		return "", false, fault.Wrap(fault.PathSecurity, err, "path rejected")
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return "", false, fault.Wrap(fault.FileAccess, err, "stat failed")
	}
	if !info.Mode().IsRegular() {
		return "", false, fault.New(fault.FileAccess, "path exists but is not a regular file")
	}
	if info.Size() > svc.cfg.MaxFileSize {
		return "", false, fault.New(fault.FileTooLarge,
			"file is %d bytes, exceeding the %d byte limit", info.Size(), svc.cfg.MaxFileSize)
	}

	content, err := svc.cache.Read(canonical)
	if err != nil {
		return "", false, fault.Wrap(fault.FileAccess, err, "read failed")
	}

	lines := splitLines(string(content))
	totalLines := len(lines)

	startIdx := 0
	if startNum != nil && *startNum > 1 {
		startIdx = *startNum - 1
	}
	endIdx := totalLines
	if endNum != nil && *endNum < totalLines {
		endIdx = *endNum
	}
	if startIdx > totalLines {
		startIdx = totalLines
	}
	if endIdx < startIdx {
		endIdx = startIdx
	}

	if budget < 0 {
		budget = 0
	}
	var body strings.Builder
	truncated := false
	for i := startIdx; i < endIdx; i++ {
		line := fmt.Sprintf("%d %s\n", i+1, lines[i])
		if body.Len()+len(line) > budget {
			truncated = true
			body.WriteString("\n(...truncated due to output limit)")
			// Only what was emitted counts as read.
			endIdx = i
			break
		}
		body.WriteString(line)
	}

	effectiveStart := startIdx + 1
	effectiveEnd := endIdx
	if totalLines == 0 {
		effectiveStart, effectiveEnd = 0, 0
	}

	if effectiveEnd >= effectiveStart && effectiveStart > 0 {
		svc.cache.RecordReadRange(canonical, effectiveStart, effectiveEnd)
		hash, _ := svc.cache.Hash(canonical)
		sess.RecordRead(canonical, hash,
			[]filecache.Range{{Start: effectiveStart, End: effectiveEnd}}, totalLines)
	} else if totalLines == 0 {
		// Empty files are trivially fully read.
		hash, _ := svc.cache.Hash(canonical)
		sess.RecordRead(canonical, hash, nil, 0)
	}

	return fmt.Sprintf("\n%s\n```\n%s\n```", requested, body.String()), truncated, nil
}

// splitLines splits content into lines without a trailing phantom line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
