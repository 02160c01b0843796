// Package cmd defines the jamlink command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for jamlink.
// When invoked without a subcommand, it delegates to "run" for convenience.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "jamlink",
		Short: "jamlink — real-time music session signaling and relay server",
		Long:  "jamlink relays WebRTC negotiation, playback sync, and audio chunks between a session host and its clients, and serves a session discovery API.",
		// Bare invocation (no subcommand) behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
