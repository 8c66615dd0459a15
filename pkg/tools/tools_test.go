package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskhand/deskhand/pkg/config"
	"github.com/deskhand/deskhand/pkg/fault"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MaxFileSize:     50_000_000,
		MaxOutputSize:   1 << 20,
		ReadBudgetChars: 24000,
		CacheMaxEntries: 100,
		CacheMaxBody:    10 << 20,
		FuzzyThreshold:  0.85,
		PromptGrace:     100 * time.Millisecond,
		DataDir:         t.TempDir(),
	}
}

func newTestService(t *testing.T, mode string) (*Service, string, string) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}

	svc := NewService(testConfig(t))
	t.Cleanup(svc.Close)

	ws := t.TempDir()
	summary, err := svc.Initialize(context.Background(), InitializeInput{
		InitType:         InitFirstCall,
		ModeName:         mode,
		AnyWorkspacePath: ws,
	})
	require.NoError(t, err)

	threadID := extractThreadID(t, summary)
	// The workspace may resolve through symlinks (e.g. /tmp on macOS).
	canonicalWS, err := filepath.EvalSymlinks(ws)
	require.NoError(t, err)
	return svc, canonicalWS, threadID
}

func extractThreadID(t *testing.T, summary string) string {
	t.Helper()
	for _, line := range strings.Split(summary, "\n") {
		if rest, ok := strings.CutPrefix(line, "thread_id: "); ok {
			return rest
		}
	}
	t.Fatalf("no thread_id in summary: %q", summary)
	return ""
}

func TestInitializeThenEcho(t *testing.T) {
	svc, _, threadID := newTestService(t, "wcgw")

	result, err := svc.BashCommand(context.Background(), BashCommandInput{
		Action:         BashAction{Command: &CommandAction{Command: "echo test"}},
		WaitForSeconds: 5.0,
		ThreadID:       threadID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, result.Status)
	assert.Contains(t, result.Output, "test")
	assert.NotEmpty(t, result.CWD)
}

func TestThreadIDMismatch(t *testing.T) {
	svc, _, _ := newTestService(t, "wcgw")

	_, err := svc.BashCommand(context.Background(), BashCommandInput{
		Action:   BashAction{Command: &CommandAction{Command: "echo x"}},
		ThreadID: "some-other-thread",
	})
	require.Error(t, err)
	assert.Equal(t, fault.ThreadIdMismatch, fault.KindOf(err))
}

func TestReadBeforeEdit(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")
	ctx := context.Background()

	path := filepath.Join(ws, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\nworld\n"), 0o644))

	edit := FileWriteOrEditInput{
		FilePath:                  path,
		PercentageToChange:        10,
		TextOrSearchReplaceBlocks: "<<<<<<< SEARCH\nhello\n=======\nhi\n>>>>>>> REPLACE\n",
		ThreadID:                  threadID,
	}

	_, err := svc.FileWriteOrEdit(ctx, edit)
	require.Error(t, err)
	assert.Equal(t, fault.ReadBeforeWrite, fault.KindOf(err))

	message, err := svc.ReadFiles(ctx, ReadFilesInput{
		FilePaths:     []string{path},
		StartLineNums: []*int{nil},
		EndLineNums:   []*int{nil},
		ThreadID:      threadID,
	})
	require.NoError(t, err)
	assert.Contains(t, message, "hello")
	assert.Contains(t, message, "1 hello")

	_, err = svc.FileWriteOrEdit(ctx, edit)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi\nworld\n", string(content))
}

func TestAmbiguousBlockLeavesFileUnchanged(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")
	ctx := context.Background()

	path := filepath.Join(ws, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\na\n"), 0o644))

	_, err := svc.ReadFiles(ctx, ReadFilesInput{FilePaths: []string{path}, ThreadID: threadID})
	require.NoError(t, err)

	_, err = svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:                  path,
		PercentageToChange:        10,
		TextOrSearchReplaceBlocks: "<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE\n",
		ThreadID:                  threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.SearchBlockAmbiguous, fault.KindOf(err))

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.MatchCount)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\na\n", string(content))
}

func TestFuzzyEditApplies(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")
	ctx := context.Background()

	path := filepath.Join(ws, "main.rs")
	require.NoError(t, os.WriteFile(path, []byte("fn main() {\n    x + 1\n}\n"), 0o644))

	_, err := svc.ReadFiles(ctx, ReadFilesInput{FilePaths: []string{path}, ThreadID: threadID})
	require.NoError(t, err)

	_, err = svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:           path,
		PercentageToChange: 10,
		TextOrSearchReplaceBlocks: "<<<<<<< SEARCH\nfn main() {\n    x+1\n}\n=======\nfn main() { x + 2 }\n>>>>>>> REPLACE\n",
		ThreadID:           threadID,
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "x + 2")
}

func TestPathTraversalRejected(t *testing.T) {
	svc, _, threadID := newTestService(t, "wcgw")

	message, err := svc.ReadFiles(context.Background(), ReadFilesInput{
		FilePaths: []string{"../etc/passwd"},
		ThreadID:  threadID,
	})
	require.NoError(t, err) // per-file errors are embedded in the message
	assert.Contains(t, message, "Error reading")

	// A direct absolute escape is also rejected.
	message, err = svc.ReadFiles(context.Background(), ReadFilesInput{
		FilePaths: []string{"/etc/passwd"},
		ThreadID:  threadID,
	})
	require.NoError(t, err)
	assert.Contains(t, message, "Error reading")
}

func TestWholeRewriteWithoutRead(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")
	ctx := context.Background()

	path := filepath.Join(ws, "new.txt")
	_, err := svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:                  path,
		PercentageToChange:        100,
		TextOrSearchReplaceBlocks: "fresh content\n",
		ThreadID:                  threadID,
	})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh content\n", string(content))

	// The rewrite re-establishes the whitelist: an immediate edit works.
	_, err = svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:                  path,
		PercentageToChange:        10,
		TextOrSearchReplaceBlocks: "<<<<<<< SEARCH\nfresh content\n=======\nedited content\n>>>>>>> REPLACE\n",
		ThreadID:                  threadID,
	})
	require.NoError(t, err)
}

func TestArchitectModeEnforcement(t *testing.T) {
	svc, ws, threadID := newTestService(t, "architect")
	ctx := context.Background()

	path := filepath.Join(ws, "f.txt")
	_, err := svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:                  path,
		PercentageToChange:        100,
		TextOrSearchReplaceBlocks: "nope\n",
		ThreadID:                  threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.ModeForbidden, fault.KindOf(err))

	_, err = svc.BashCommand(ctx, BashCommandInput{
		Action:   BashAction{Command: &CommandAction{Command: "rm -rf /"}},
		ThreadID: threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.CommandNotAllowed, fault.KindOf(err))

	// Read-only commands still work.
	result, err := svc.BashCommand(ctx, BashCommandInput{
		Action:         BashAction{Command: &CommandAction{Command: "echo safe"}},
		WaitForSeconds: 5.0,
		ThreadID:       threadID,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "safe")
}

func TestCodeWriterPolicy(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	svc := NewService(testConfig(t))
	t.Cleanup(svc.Close)

	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "src"), 0o755))

	summary, err := svc.Initialize(context.Background(), InitializeInput{
		InitType:         InitFirstCall,
		ModeName:         "code_writer",
		AnyWorkspacePath: ws,
		CodeWriterConfig: &CodeWriterConfigInput{
			AllowedGlobs:    []string{"src/**"},
			AllowedCommands: []string{"echo", "go"},
		},
	})
	require.NoError(t, err)
	threadID := extractThreadID(t, summary)
	ctx := context.Background()

	// Write inside an allowed glob.
	_, err = svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:                  "src/a.go",
		PercentageToChange:        100,
		TextOrSearchReplaceBlocks: "package a\n",
		ThreadID:                  threadID,
	})
	require.NoError(t, err)

	// Write outside the allowed globs.
	_, err = svc.FileWriteOrEdit(ctx, FileWriteOrEditInput{
		FilePath:                  "README.md",
		PercentageToChange:        100,
		TextOrSearchReplaceBlocks: "# no\n",
		ThreadID:                  threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.ModeForbidden, fault.KindOf(err))

	// Disallowed command.
	_, err = svc.BashCommand(ctx, BashCommandInput{
		Action:   BashAction{Command: &CommandAction{Command: "make all"}},
		ThreadID: threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.CommandNotAllowed, fault.KindOf(err))
}

func TestCodeWriterRequiresConfig(t *testing.T) {
	svc := NewService(testConfig(t))
	t.Cleanup(svc.Close)

	_, err := svc.Initialize(context.Background(), InitializeInput{
		InitType:         InitFirstCall,
		ModeName:         "code_writer",
		AnyWorkspacePath: t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, fault.ConfigError, fault.KindOf(err))
}

func TestBackgroundCommandAndStatus(t *testing.T) {
	svc, _, threadID := newTestService(t, "wcgw")
	ctx := context.Background()

	result, err := svc.BashCommand(ctx, BashCommandInput{
		Action: BashAction{Command: &CommandAction{
			Command:      "sleep 10 && echo done",
			IsBackground: true,
		}},
		WaitForSeconds: 5.0,
		ThreadID:       threadID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.BgCommandID)

	status, err := svc.BashCommand(ctx, BashCommandInput{
		Action:   BashAction{StatusCheck: &StatusCheckAction{BgCommandID: result.BgCommandID}},
		ThreadID: threadID,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusStillRunning, status.Status)

	// The foreground shell remains available.
	fg, err := svc.BashCommand(ctx, BashCommandInput{
		Action:         BashAction{Command: &CommandAction{Command: "echo foreground"}},
		WaitForSeconds: 5.0,
		ThreadID:       threadID,
	})
	require.NoError(t, err)
	assert.Contains(t, fg.Output, "foreground")
}

func TestStatusCheckWhenIdle(t *testing.T) {
	svc, _, threadID := newTestService(t, "wcgw")

	_, err := svc.BashCommand(context.Background(), BashCommandInput{
		Action:   BashAction{StatusCheck: &StatusCheckAction{}},
		ThreadID: threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.NoRunningCommand, fault.KindOf(err))
}

func TestContextSaveAndResume(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(ws, "notes.md"), []byte("remember me\n"), 0o644))

	saved, err := svc.ContextSave(ctx, ContextSaveInput{
		ID:                "task-7",
		ProjectRootPath:   ws,
		Description:       "long running refactor",
		RelevantFileGlobs: []string{"*.md"},
		ThreadID:          threadID,
	})
	require.NoError(t, err)
	assert.Contains(t, saved, "task-7.txt")

	summary, err := svc.Initialize(ctx, InitializeInput{
		InitType:         InitResumeTask,
		ModeName:         "wcgw",
		AnyWorkspacePath: ws,
		TaskIDToResume:   "task-7",
	})
	require.NoError(t, err)
	assert.Contains(t, summary, "long running refactor")
	assert.Contains(t, summary, "remember me")
}

func TestResumeUnknownTask(t *testing.T) {
	svc, ws, _ := newTestService(t, "wcgw")

	_, err := svc.Initialize(context.Background(), InitializeInput{
		InitType:         InitResumeTask,
		ModeName:         "wcgw",
		AnyWorkspacePath: ws,
		TaskIDToResume:   "never-saved",
	})
	require.Error(t, err)
	assert.Equal(t, fault.ResumeNotFound, fault.KindOf(err))
}

func TestReadImage(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")

	// Minimal PNG: signature + IHDR chunk header.
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
	path := filepath.Join(ws, "pixel.png")
	require.NoError(t, os.WriteFile(path, png, 0o644))

	result, err := svc.ReadImage(context.Background(), ReadImageInput{
		FilePath: path,
		ThreadID: threadID,
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", result.MIME)
	assert.NotEmpty(t, result.Base64)
}

func TestReadImageUnsupportedType(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")

	path := filepath.Join(ws, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := svc.ReadImage(context.Background(), ReadImageInput{
		FilePath: path,
		ThreadID: threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.FileAccess, fault.KindOf(err))
}

func TestReadFilesLineRanges(t *testing.T) {
	svc, ws, threadID := newTestService(t, "wcgw")

	path := filepath.Join(ws, "lines.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\nfive\n"), 0o644))

	two, four := 2, 4
	message, err := svc.ReadFiles(context.Background(), ReadFilesInput{
		FilePaths:     []string{path},
		StartLineNums: []*int{&two},
		EndLineNums:   []*int{&four},
		ThreadID:      threadID,
	})
	require.NoError(t, err)
	assert.Contains(t, message, "2 two")
	assert.Contains(t, message, "4 four")
	assert.NotContains(t, message, "1 one")
	assert.NotContains(t, message, "5 five")

	// A partial read is not enough to edit.
	_, err = svc.FileWriteOrEdit(context.Background(), FileWriteOrEditInput{
		FilePath:                  path,
		PercentageToChange:        10,
		TextOrSearchReplaceBlocks: "<<<<<<< SEARCH\ntwo\n=======\n2\n>>>>>>> REPLACE\n",
		ThreadID:                  threadID,
	})
	require.Error(t, err)
	assert.Equal(t, fault.ReadBeforeWrite, fault.KindOf(err))
}
