package tools

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/logger"
	"github.com/deskhand/deskhand/pkg/session"
	"github.com/deskhand/deskhand/pkg/shell"
)

// bgPIDPattern extracts the PID echoed after a background submission.
var bgPIDPattern = regexp.MustCompile(`\[deskhand-bg\] (\d+)`)

// BashCommand executes one of the four shell actions.
func (svc *Service) BashCommand(ctx context.Context, in BashCommandInput) (BashResult, error) {
	var result BashResult
	err := svc.withSession(in.ThreadID, func(sess *session.Session) error {
		var err error
		switch action := in.Action; {
		case action.Command != nil:
			result, err = svc.runCommand(sess, *action.Command, in.WaitForSeconds)
		case action.StatusCheck != nil:
			result, err = svc.statusCheck(sess, *action.StatusCheck, in.WaitForSeconds)
		case action.SendText != nil:
			result, err = svc.sendText(sess, action.SendText.Text, in.WaitForSeconds)
		case action.SendSpecials != nil:
			keys := make([]shell.SpecialKey, len(action.SendSpecials.Keys))
			for i, k := range action.SendSpecials.Keys {
				keys[i] = shell.SpecialKey(k)
			}
			result, err = svc.sendSpecials(sess, keys, in.WaitForSeconds)
		default:
			err = fault.New(fault.ConfigError, "bash action must set exactly one of command, status_check, send_text, send_specials")
		}
		return err
	})
	return result, err
}

func (svc *Service) runCommand(sess *session.Session, action CommandAction, wait float64) (BashResult, error) {
	if err := sess.CheckCommand(action.Command); err != nil {
		return BashResult{}, err
	}

	warnings := shell.Warnings(action.Command)
	if shell.IsInteractive(action.Command) && svc.cfg.RefuseInteractive {
		return BashResult{}, fault.New(fault.InteractiveRefused,
			"command %q is interactive and interactive commands are refused by policy", action.Command)
	}

	if err := sess.EnsureShell(svc.shellOptions()); err != nil {
		return BashResult{}, err
	}

	if wait <= 0 {
		wait = shell.SuggestedTimeout(action.Command).Seconds()
	}

	if action.IsBackground {
		return svc.runBackground(sess, action.Command, warnings)
	}

	if err := sess.Shell.SendCommand(action.Command); err != nil {
		return BashResult{}, err
	}
	output, complete := sess.Shell.ReadOutput(wait)
	return svc.report(sess, output, complete, "", warnings), nil
}

// runBackground submits the command under & and records the reported PID.
// Its output is redirected to /dev/null and is not streamed back.
func (svc *Service) runBackground(sess *session.Session, command string, warnings []string) (BashResult, error) {
	bgID := sess.NextBgID()
	wrapped := fmt.Sprintf(`{ %s ; } >/dev/null 2>&1 & echo "[deskhand-bg] $!"`, command)

	if err := sess.Shell.SendCommand(wrapped); err != nil {
		return BashResult{}, err
	}
	output, complete := sess.Shell.ReadOutput(5.0)

	job := &session.BgJob{
		ID:        bgID,
		Command:   command,
		StartedAt: time.Now(),
	}
	if m := bgPIDPattern.FindStringSubmatch(output); m != nil {
		job.PID, _ = strconv.Atoi(m[1])
	}
	sess.BgJobs[bgID] = job

	logger.InfoCF("shell", "background command started", map[string]any{
		"bg_id": bgID,
		"pid":   job.PID,
	})

	result := svc.report(sess, output, complete, bgID, warnings)
	result.Output = fmt.Sprintf("started background command %s (pid %d)", bgID, job.PID)
	return result, nil
}

func (svc *Service) statusCheck(sess *session.Session, action StatusCheckAction, wait float64) (BashResult, error) {
	if action.BgCommandID != "" {
		return svc.bgStatus(sess, action.BgCommandID)
	}

	if sess.Shell == nil || !sess.Shell.Alive() {
		return BashResult{}, fault.New(fault.ShellDead, "shell is not running")
	}
	if !sess.Shell.Running() {
		return BashResult{}, fault.New(fault.NoRunningCommand, "no foreground command is running")
	}
	if wait <= 0 {
		wait = 1.0
	}
	output, complete := sess.Shell.ReadOutput(wait)
	return svc.report(sess, output, complete, "", nil), nil
}

func (svc *Service) bgStatus(sess *session.Session, bgID string) (BashResult, error) {
	job, ok := sess.BgJobs[bgID]
	if !ok {
		return BashResult{}, fault.New(fault.NoRunningCommand, "no background job %q", bgID)
	}

	if !job.Finished && job.PID > 0 && !pidAlive(job.PID) {
		job.Finished = true
	}
	status := StatusStillRunning
	if job.Finished {
		status = StatusProcessExited
	}
	return BashResult{
		Output: fmt.Sprintf("background job %s (%s), pid %d, started %s ago",
			bgID, status, job.PID, time.Since(job.StartedAt).Round(time.Second)),
		Status:      status,
		CWD:         sess.CWD,
		BgCommandID: bgID,
	}, nil
}

func pidAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (svc *Service) sendText(sess *session.Session, text string, wait float64) (BashResult, error) {
	if sess.Shell == nil || !sess.Shell.Alive() {
		return BashResult{}, fault.New(fault.ShellDead, "shell is not running")
	}
	if err := sess.Shell.SendText(text); err != nil {
		return BashResult{}, err
	}
	if wait <= 0 {
		wait = 1.0
	}
	output, complete := sess.Shell.ReadOutput(wait)
	return svc.report(sess, output, complete, "", nil), nil
}

func (svc *Service) sendSpecials(sess *session.Session, keys []shell.SpecialKey, wait float64) (BashResult, error) {
	if sess.Shell == nil || !sess.Shell.Alive() {
		return BashResult{}, fault.New(fault.ShellDead, "shell is not running")
	}
	if err := sess.Shell.SendSpecials(keys); err != nil {
		return BashResult{}, err
	}
	if wait <= 0 {
		wait = 1.0
	}
	output, complete := sess.Shell.ReadOutput(wait)
	return svc.report(sess, output, complete, "", nil), nil
}

// report assembles the structured result and syncs the session cwd from the
// shell's last sentinel.
func (svc *Service) report(sess *session.Session, output string, complete bool, bgID string, warnings []string) BashResult {
	status := StatusStillRunning
	switch {
	case !sess.Shell.Alive():
		status = StatusProcessExited
	case complete:
		status = StatusComplete
	}
	if cwd := sess.Shell.CWD(); cwd != "" {
		sess.CWD = cwd
	}
	return BashResult{
		Output:      output,
		Status:      status,
		CWD:         sess.CWD,
		BgCommandID: bgID,
		Warnings:    warnings,
		Truncated:   sess.Shell.Truncated(),
	}
}
