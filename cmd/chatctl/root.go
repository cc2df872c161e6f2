package main

import (
	"branchchat-backend/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Inspect and edit branchchat conversations",
		Long: `chatctl works on conversations exported from GET /v1/conversation/{id}.

  chatctl path conv.json                  # show the current branch
  chatctl path conv.json --selected <id>  # show the branch through a message
  chatctl export conv.json --format md    # write a transcript
  chatctl remove conv.json <message-id>   # drop a message and its replies
  chatctl token --sub alice               # mint a development token`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logging.SetupWriter(cmd.ErrOrStderr(), level, "text")
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newPathCmd(), newExportCmd(), newRemoveCmd(), newTokenCmd())
	return root
}
