package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deskhand/deskhand/cmd/deskhand/internal"
	"github.com/deskhand/deskhand/pkg/config"
	"github.com/deskhand/deskhand/pkg/logger"
	"github.com/deskhand/deskhand/pkg/server"
)

func NewServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Serve the deskhand tools over MCP on stdio",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serveCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func serveCmd(debug bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}
	// stdout carries the MCP stream; all logging goes to stderr.
	logger.Init(os.Stderr, cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, internal.GetVersion()).Run(ctx)
}
