package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mindpalace/internal/client"
	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/tui"
)

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open the live terminal viewer",
		Long: `Open the terminal viewer against a running server. New thoughts are
typed at the prompt and the list follows inserts and insights as they land.

Examples:
  mindpalace watch
  mindpalace watch --server http://palace.lan:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}
}

func runWatch(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(opts.serverURL)
	return tui.Run(ctx, c, liveview.New(c, c))
}
