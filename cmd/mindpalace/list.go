package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mindpalace/internal/client"
	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all thoughts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}
}

func runList(cmd *cobra.Command, opts *options) error {
	thoughts, err := client.New(opts.serverURL).List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list thoughts from %s: %w", opts.serverURL, err)
	}
	return liveview.Render(cmd.OutOrStdout(), thoughts)
}
