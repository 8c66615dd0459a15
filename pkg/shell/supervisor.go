// Package shell owns a live shell process inside a pseudo-terminal and
// drives it command-by-command.
//
// Completion is detected by a sentinel prompt: the shell's PROMPT_COMMAND
// emits two rare Unicode markers around the current working directory each
// time it returns to interactive state. A command is complete when both
// markers appear in the output produced after submission, followed by a short
// drain grace to capture trailing bytes.
package shell

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/logger"
)

// Sentinel markers emitted by PROMPT_COMMAND. They must not occur in
// ordinary command output; both are far outside common code/text ranges.
const (
	SentinelPrefix = "◉ "
	SentinelSuffix = "──➤"
)

// Default terminal dimensions.
const (
	DefaultCols uint16 = 200
	DefaultRows uint16 = 50
)

const (
	defaultMaxOutput = 1 << 20
	defaultGrace     = 100 * time.Millisecond
	pollInterval     = 10 * time.Millisecond
	truncationMarker = "\n(...output truncated...)\n"
)

// promptInit re-exports the prompt into the running shell; login shells may
// clobber the spawn-time environment, so it is set again as the first input.
const promptInit = `export GIT_PAGER=cat PAGER=cat PROMPT_COMMAND='printf "` +
	SentinelPrefix + `%s` + SentinelSuffix + ` " "$(pwd)"'`

// State is the supervisor's lifecycle state.
type State int

const (
	// StateIdle means no foreground command is running.
	StateIdle State = iota
	// StateRunning means a foreground command was submitted and the sentinel
	// has not been sighted.
	StateRunning
	// StateWaitingForPrompt means the read deadline expired without the
	// sentinel; the command is still owned by the shell.
	StateWaitingForPrompt
	// StateDead means the PTY reader ended; the supervisor is unusable.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaitingForPrompt:
		return "waiting_for_prompt"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// Supervisor drives one shell in one PTY, one foreground command at a time.
type Supervisor struct {
	mu sync.Mutex

	ptmx *os.File
	cmd  *exec.Cmd
	t    tomb.Tomb

	output chan []byte

	buf         bytes.Buffer
	truncated   bool
	lastCommand string
	state       State
	cwd         string

	cols, rows uint16
	maxOutput  int
	grace      time.Duration
}

// Options tunes a supervisor; zero values select defaults.
type Options struct {
	// Restricted starts bash in restricted mode (-r).
	Restricted bool
	// MaxOutput caps accumulated output before truncation.
	MaxOutput int
	// Grace is the drain window after the sentinel is sighted.
	Grace time.Duration
}

// New spawns a login shell in a fresh PTY rooted at initialDir.
func New(initialDir string, opts Options) (*Supervisor, error) {
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = defaultMaxOutput
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}

	args := []string{"-l"}
	if opts.Restricted {
		args = []string{"-r", "-l"}
	}
	cmd := exec.Command("bash", args...)
	cmd.Dir = initialDir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"PAGER=cat",
		"GIT_PAGER=cat",
		fmt.Sprintf("COLUMNS=%d", DefaultCols),
		fmt.Sprintf("ROWS=%d", DefaultRows),
		`PROMPT_COMMAND=printf '`+SentinelPrefix+`'"$(pwd)"'`+SentinelSuffix+` '`,
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: DefaultRows, Cols: DefaultCols})
	if err != nil {
		return nil, errors.Wrap(err, "starting shell in pty")
	}

	s := &Supervisor{
		ptmx:      ptmx,
		cmd:       cmd,
		output:    make(chan []byte, 256),
		state:     StateIdle,
		cwd:       initialDir,
		cols:      DefaultCols,
		rows:      DefaultRows,
		maxOutput: opts.MaxOutput,
		grace:     opts.Grace,
	}
	s.t.Go(s.readLoop)

	// Login shells may override PROMPT_COMMAND from profile files; set it
	// again as the first input, then discard the startup chatter.
	if err := s.writeLine(promptInit); err != nil {
		s.Close()
		return nil, err
	}
	s.drainStartup(2 * time.Second)

	logger.InfoCF("shell", "pty shell created", map[string]any{
		"dir":        initialDir,
		"restricted": opts.Restricted,
	})
	return s, nil
}

// readLoop copies bytes from the PTY master into the output channel until
// EOF or error.
func (s *Supervisor) readLoop() error {
	defer close(s.output)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.t.Dying():
				return nil
			}
		}
		if err != nil {
			logger.DebugCF("shell", "pty reader ended", map[string]any{"error": err.Error()})
			return nil
		}
	}
}

// drainStartup consumes the login chatter and initial prompts, returning
// once the shell has been quiet for a beat (or at the deadline). Stopping at
// the first sentinel is not enough: the prompt re-export echoes a second one.
func (s *Supervisor) drainStartup(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	quiet := 0
	sawSentinel := false
	var seen bytes.Buffer
	for time.Now().Before(deadline) {
		select {
		case chunk, ok := <-s.output:
			if !ok {
				s.markDead()
				return
			}
			seen.Write(chunk)
			quiet = 0
			if _, _, found := lastSentinel(seen.String()); found {
				sawSentinel = true
			}
		case <-time.After(pollInterval):
			quiet++
			if sawSentinel && quiet >= 20 {
				return
			}
		}
	}
}

func (s *Supervisor) markDead() {
	s.mu.Lock()
	s.state = StateDead
	s.mu.Unlock()
}

// writeLine writes a command followed by a newline to the PTY.
func (s *Supervisor) writeLine(line string) error {
	if _, err := s.ptmx.Write([]byte(line + "\n")); err != nil {
		return fault.Wrap(fault.ShellDead, err, "writing to pty")
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether the shell can still accept commands.
func (s *Supervisor) Alive() bool { return s.State() != StateDead }

// Running reports whether a foreground command is in flight.
func (s *Supervisor) Running() bool {
	st := s.State()
	return st == StateRunning || st == StateWaitingForPrompt
}

// CWD returns the working directory parsed from the last sentinel.
func (s *Supervisor) CWD() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// LastCommand returns the most recently submitted command.
func (s *Supervisor) LastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommand
}

// Truncated reports whether the current buffer was truncated.
func (s *Supervisor) Truncated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truncated
}

// SendCommand submits a foreground command. Precondition: no foreground
// command is currently running.
func (s *Supervisor) SendCommand(command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDead:
		return fault.New(fault.ShellDead, "shell process has exited; reinitialize to recover")
	case StateRunning, StateWaitingForPrompt:
		return errors.New("a foreground command is already running; use status_check or send_specials to interact with it")
	}

	s.buf.Reset()
	s.truncated = false
	s.lastCommand = command
	s.state = StateRunning

	logger.DebugCF("shell", "sending command", map[string]any{"command": command})
	if _, err := s.ptmx.Write([]byte(command + "\n")); err != nil {
		s.state = StateDead
		return fault.Wrap(fault.ShellDead, err, "writing command to pty")
	}
	return nil
}

// ReadOutput accumulates output until the sentinel is sighted (plus the
// grace window) or waitSeconds elapses. It returns the buffered output and
// whether reading finished: true when the command completed or the shell
// died. A false return leaves the command running; it is not killed.
func (s *Supervisor) ReadOutput(waitSeconds float64) (string, bool) {
	if waitSeconds < 0.1 {
		waitSeconds = 0.1
	}
	s.mu.Lock()
	prior := s.state
	s.mu.Unlock()
	deadline := time.Now().Add(time.Duration(waitSeconds * float64(time.Second)))
	var promptAt time.Time
	complete := false
	dead := false

loop:
	for time.Now().Before(deadline) {
		select {
		case chunk, ok := <-s.output:
			if !ok {
				dead = true
				break loop
			}
			s.mu.Lock()
			s.buf.Write(chunk)
			s.truncateLocked()
			if promptAt.IsZero() {
				if _, _, found := lastSentinel(s.buf.String()); found {
					promptAt = time.Now()
				}
			}
			s.mu.Unlock()
		case <-time.After(pollInterval):
			if !promptAt.IsZero() && time.Since(promptAt) > s.grace {
				complete = true
				break loop
			}
		}
	}
	if !promptAt.IsZero() {
		complete = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	output := s.buf.String()

	switch {
	case dead:
		s.state = StateDead
	case complete:
		if _, cwd, found := lastSentinel(output); found && cwd != "" {
			s.cwd = cwd
		}
		s.state = StateIdle
		output = stripSentinels(output)
	default:
		// Only a submitted command waits for the prompt; reads against an
		// idle shell (raw text, key injection) leave it idle.
		if prior == StateRunning || prior == StateWaitingForPrompt {
			s.state = StateWaitingForPrompt
		}
	}
	return output, complete || dead
}

// truncateLocked keeps the last half of the buffer when it exceeds the cap.
func (s *Supervisor) truncateLocked() {
	if s.buf.Len() <= s.maxOutput {
		return
	}
	data := s.buf.Bytes()
	keep := s.maxOutput / 2
	kept := make([]byte, 0, len(truncationMarker)+keep)
	kept = append(kept, truncationMarker...)
	kept = append(kept, data[len(data)-keep:]...)
	s.buf.Reset()
	s.buf.Write(kept)
	s.truncated = true
}

// lastSentinel locates the final prompt sentinel in text, returning its
// byte offset and the working directory between the markers.
func lastSentinel(text string) (offset int, cwd string, found bool) {
	prefixAt := strings.LastIndex(text, SentinelPrefix)
	if prefixAt < 0 {
		return 0, "", false
	}
	rest := text[prefixAt+len(SentinelPrefix):]
	suffixAt := strings.Index(rest, SentinelSuffix)
	if suffixAt < 0 {
		return 0, "", false
	}
	return prefixAt, strings.TrimSpace(rest[:suffixAt]), true
}

// stripSentinels removes prompt lines from output shown to the caller.
func stripSentinels(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, SentinelPrefix) && strings.Contains(line, SentinelSuffix) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// SendText writes raw bytes to the PTY with no trailing newline.
func (s *Supervisor) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDead {
		return fault.New(fault.ShellDead, "shell process has exited")
	}
	if _, err := s.ptmx.Write([]byte(text)); err != nil {
		s.state = StateDead
		return fault.Wrap(fault.ShellDead, err, "writing text to pty")
	}
	return nil
}

// SendSpecials writes the byte sequences for the given keys in order.
func (s *Supervisor) SendSpecials(keys []SpecialKey) error {
	var seq []byte
	for _, k := range keys {
		b, err := k.Bytes()
		if err != nil {
			return err
		}
		seq = append(seq, b...)
	}
	return s.SendText(string(seq))
}

// Interrupt sends Ctrl+C.
func (s *Supervisor) Interrupt() error { return s.SendText("\x03") }

// EOF sends Ctrl+D.
func (s *Supervisor) EOF() error { return s.SendText("\x04") }

// Suspend sends Ctrl+Z.
func (s *Supervisor) Suspend() error { return s.SendText("\x1a") }

// Resize updates the PTY dimensions.
func (s *Supervisor) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return errors.Wrap(err, "resizing pty")
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Size returns the current PTY dimensions.
func (s *Supervisor) Size() (cols, rows uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Close tears the supervisor down: the shell process is killed and the
// reader drains to EOF.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.state = StateDead
	s.mu.Unlock()

	s.t.Kill(nil)
	err := s.ptmx.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
	}
	_ = s.t.Wait()
	return err
}
