// Package main implements the mindpalace command: the HTTP service, the
// terminal viewer and a few one-shot operations against a running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	// configPath overrides ~/.config/mindpalace/config.yaml.
	configPath string
	// serverURL is the base URL used by client commands.
	serverURL string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds a fresh command tree. Each call returns independent
// flag and context state.
func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "mindpalace",
		Short: "Capture thoughts and let the AI annotate them",
		Long: `mindpalace stores short thoughts, asks an AI model for a one-line insight
on each and shows the collection updating live.

Run "mindpalace serve" to start the service, then "mindpalace watch" to
open the terminal viewer.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/mindpalace/config.yaml)")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:3000", "mindpalace server URL")
	root.AddCommand(
		newServeCmd(opts),
		newWatchCmd(opts),
		newSubmitCmd(opts),
		newListCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	}
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mindpalace by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
