// deskhand - an MCP backend that lets an LLM drive a developer workstation:
// a persistent interactive shell, workspace-rooted file reads and edits, and
// task context that survives across sessions.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deskhand/deskhand/cmd/deskhand/internal"
	"github.com/deskhand/deskhand/cmd/deskhand/internal/serve"
	"github.com/deskhand/deskhand/cmd/deskhand/internal/status"
	"github.com/deskhand/deskhand/cmd/deskhand/internal/version"
)

func NewDeskhandCommand() *cobra.Command {
	short := fmt.Sprintf("%s deskhand - Code Agent Backend v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "deskhand",
		Short:   short,
		Example: "deskhand serve",
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewDeskhandCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
