// Package cli wires configuration, state, sinks and the extraction engine
// behind the tap's cobra commands.
package cli

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	statePath  string
	streams    []string
	discover   bool
}

// NewRootCmd builds the command tree. Running the root command without a
// subcommand syncs, matching the Singer tap calling convention
// (tap-gainsightpx --config config.json --state state.json).
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "tap-gainsightpx",
		Short: "Singer tap for the Gainsight PX REST API",
		Long: `tap-gainsightpx pages through Gainsight PX REST endpoints and writes
Singer SCHEMA, RECORD and STATE messages to stdout. Incremental streams
resume from the bookmarks in the state document.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.discover {
				return runDiscover(cmd, opts)
			}
			return runSync(cmd, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML or JSON config file")
	flags.StringVarP(&opts.statePath, "state", "s", "", "Path to a Singer state document to resume from")
	flags.StringSliceVar(&opts.streams, "stream", nil, "Stream to sync (repeatable; default: all)")
	rootCmd.Flags().BoolVar(&opts.discover, "discover", false, "Print the catalog and exit")

	rootCmd.AddCommand(newSyncCmd(opts))
	rootCmd.AddCommand(newDiscoverCmd(opts))

	return rootCmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync the selected streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}
}

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print the Singer catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, opts)
		},
	}
}
