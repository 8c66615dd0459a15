// Package tools implements the deskhand tool surface: Initialize,
// BashCommand, ReadFiles, FileWriteOrEdit, ReadImage and ContextSave.
//
// The request taxonomy is closed: each tool has one typed input struct, and
// BashCommand's action is a tagged variant over four shapes.
package tools

// Initialize input.
const (
	InitFirstCall  = "first_call"
	InitModeChange = "mode_change"
	InitResumeTask = "resume_task"
)

// CodeWriterConfigInput carries the code_writer allow-lists. A list equal to
// ["all"] authorizes everything.
type CodeWriterConfigInput struct {
	AllowedGlobs    []string `json:"allowed_globs"`
	AllowedCommands []string `json:"allowed_commands"`
}

// InitializeInput creates, reconfigures or resumes a session.
type InitializeInput struct {
	InitType           string                 `json:"init_type"`
	ModeName           string                 `json:"mode_name"`
	AnyWorkspacePath   string                 `json:"any_workspace_path"`
	CodeWriterConfig   *CodeWriterConfigInput `json:"code_writer_config,omitempty"`
	InitialFilesToRead []string               `json:"initial_files_to_read,omitempty"`
	TaskIDToResume     string                 `json:"task_id_to_resume,omitempty"`
	ThreadID           string                 `json:"thread_id,omitempty"`
}

// CommandAction submits a command to the shell.
type CommandAction struct {
	Command      string `json:"command"`
	IsBackground bool   `json:"is_background,omitempty"`
}

// StatusCheckAction polls a running foreground command or a background job.
type StatusCheckAction struct {
	BgCommandID string `json:"bg_command_id,omitempty"`
}

// SendTextAction writes raw bytes to the PTY (no newline appended).
type SendTextAction struct {
	Text        string `json:"text"`
	BgCommandID string `json:"bg_command_id,omitempty"`
}

// SendSpecialsAction injects named keys into the PTY.
type SendSpecialsAction struct {
	Keys        []string `json:"keys"`
	BgCommandID string `json:"bg_command_id,omitempty"`
}

// BashAction is a tagged variant: exactly one field must be set.
type BashAction struct {
	Command      *CommandAction      `json:"command,omitempty"`
	StatusCheck  *StatusCheckAction  `json:"status_check,omitempty"`
	SendText     *SendTextAction     `json:"send_text,omitempty"`
	SendSpecials *SendSpecialsAction `json:"send_specials,omitempty"`
}

// BashCommandInput drives the session's shell.
type BashCommandInput struct {
	Action         BashAction `json:"action"`
	WaitForSeconds float64    `json:"wait_for_seconds,omitempty"`
	ThreadID       string     `json:"thread_id"`
}

// Command status values.
const (
	StatusComplete      = "complete"
	StatusStillRunning  = "still_running"
	StatusProcessExited = "process_exited"
)

// BashResult is the structured report of a BashCommand call.
type BashResult struct {
	Output      string   `json:"output"`
	Status      string   `json:"status"`
	CWD         string   `json:"cwd"`
	BgCommandID string   `json:"bg_command_id,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Truncated   bool     `json:"truncated,omitempty"`
}

// ReadFilesInput reads one or more files, with optional parallel line
// bounds (null entries mean "from start" / "to end").
type ReadFilesInput struct {
	FilePaths     []string `json:"file_paths"`
	StartLineNums []*int   `json:"start_line_nums,omitempty"`
	EndLineNums   []*int   `json:"end_line_nums,omitempty"`
	ThreadID      string   `json:"thread_id"`
}

// FileWriteOrEditInput writes a whole file (percentage_to_change > 50) or
// applies search/replace blocks (<= 50).
type FileWriteOrEditInput struct {
	FilePath                  string `json:"file_path"`
	PercentageToChange        int    `json:"percentage_to_change"`
	TextOrSearchReplaceBlocks string `json:"text_or_search_replace_blocks"`
	ThreadID                  string `json:"thread_id"`
}

// ReadImageInput reads an image file.
type ReadImageInput struct {
	FilePath string `json:"file_path"`
	ThreadID string `json:"thread_id"`
}

// ReadImageResult is the MIME type plus base64 payload.
type ReadImageResult struct {
	MIME   string `json:"mime"`
	Base64 string `json:"base64"`
}

// ContextSaveInput persists task context for later resumption.
type ContextSaveInput struct {
	ID                string   `json:"id"`
	ProjectRootPath   string   `json:"project_root_path"`
	Description       string   `json:"description"`
	RelevantFileGlobs []string `json:"relevant_file_globs"`
	ThreadID          string   `json:"thread_id"`
}
