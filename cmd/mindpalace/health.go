package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mindpalace/internal/client"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check mindpalace server health",
		Long: `Check the health status of a running mindpalace server.

Examples:
  mindpalace health
  mindpalace health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd, opts)
		},
	}
}

func runHealth(cmd *cobra.Command, opts *options) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if err := client.New(opts.serverURL).Health(ctx); err != nil {
		return fmt.Errorf("failed to reach %s: %w", opts.serverURL, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server Status: ok\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.serverURL)
	return nil
}
