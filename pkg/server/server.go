// Package server exposes the deskhand tool surface over the Model Context
// Protocol on stdio.
package server

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deskhand/deskhand/pkg/config"
	"github.com/deskhand/deskhand/pkg/fault"
	"github.com/deskhand/deskhand/pkg/logger"
	"github.com/deskhand/deskhand/pkg/tools"
)

// Server wraps the tool service and its MCP transport.
type Server struct {
	svc *tools.Service
	mcp *mcp.Server
}

// New assembles the MCP server and registers the tool surface.
func New(cfg *config.Config, version string) *Server {
	svc := tools.NewService(cfg)
	s := &Server{
		svc: svc,
		mcp: mcp.NewServer(&mcp.Implementation{Name: "deskhand", Version: version}, nil),
	}
	s.register()
	return s
}

// Service exposes the underlying tool service (tests, status reporting).
func (s *Server) Service() *tools.Service { return s.svc }

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errResult reports a tool failure to the caller with its taxonomy kind.
// Faults are protocol-level results, not transport errors.
func errResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	if kind := fault.KindOf(err); kind != fault.Unknown {
		msg = fmt.Sprintf("[%s] %s", kind, err.Error())
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

func (s *Server) register() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "initialize",
		Description: "Set up (or resume) the agent session: workspace root, mode " +
			"(wcgw, architect or code_writer) and the interactive shell. Must be called first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tools.InitializeInput) (*mcp.CallToolResult, any, error) {
		summary, err := s.svc.Initialize(ctx, in)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(summary), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "bash_command",
		Description: "Run a command in the persistent interactive shell, check the status of a " +
			"running command, or send raw text / special keys to it. One foreground command at a time.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tools.BashCommandInput) (*mcp.CallToolResult, any, error) {
		result, err := s.svc.BashCommand(ctx, in)
		if err != nil {
			return errResult(err), nil, nil
		}
		text := fmt.Sprintf("status: %s\ncwd: %s\n", result.Status, result.CWD)
		if result.BgCommandID != "" {
			text += fmt.Sprintf("bg_command_id: %s\n", result.BgCommandID)
		}
		for _, w := range result.Warnings {
			text += "warning: " + w + "\n"
		}
		text += "\n" + result.Output
		return textResult(text), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "read_files",
		Description: "Read one or more files (optionally line ranges) with line numbers. " +
			"Reading a file is required before editing it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tools.ReadFilesInput) (*mcp.CallToolResult, any, error) {
		message, err := s.svc.ReadFiles(ctx, in)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(message), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "file_write_or_edit",
		Description: "Write a whole file (percentage_to_change > 50) or apply search/replace " +
			"blocks (<= 50) to it. Edits require the file to have been read first.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tools.FileWriteOrEditInput) (*mcp.CallToolResult, any, error) {
		message, err := s.svc.FileWriteOrEdit(ctx, in)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(message), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "read_image",
		Description: "Read an image file (png, jpeg, gif or webp) and return it as base64.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tools.ReadImageInput) (*mcp.CallToolResult, any, error) {
		result, err := s.svc.ReadImage(ctx, in)
		if err != nil {
			return errResult(err), nil, nil
		}
		data, err := base64.StdEncoding.DecodeString(result.Base64)
		if err != nil {
			return errResult(err), nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.ImageContent{Data: data, MIMEType: result.MIME}},
		}, nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "context_save",
		Description: "Persist the task description and matching file contents so the task can be " +
			"resumed later with initialize(resume_task).",
	}, func(ctx context.Context, req *mcp.CallToolRequest, in tools.ContextSaveInput) (*mcp.CallToolResult, any, error) {
		path, err := s.svc.ContextSave(ctx, in)
		if err != nil {
			return errResult(err), nil, nil
		}
		return textResult(path), nil, nil
	})
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	logger.InfoCF("server", "serving MCP on stdio", nil)
	defer s.svc.Close()
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}
