package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mindpalace/internal/client"
)

func newSubmitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [thought...]",
		Short: "Store a thought",
		Long: `Store a thought on the server. The insight arrives asynchronously; use
"list" or "watch" to see it.

Examples:
  # From arguments
  mindpalace submit ship it

  # From stdin
  echo "ship it" | mindpalace submit -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args)
		},
	}
}

func runSubmit(cmd *cobra.Command, opts *options, args []string) error {
	var content string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		content = string(data)
	} else {
		content = strings.Join(args, " ")
	}

	created, err := client.New(opts.serverURL).Submit(cmd.Context(), strings.TrimRight(content, "\n"))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored thought #%d\n", created.ID)
	return nil
}
