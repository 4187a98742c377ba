package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Widen/tap-gainsightpx/internal/catalog"
)

// runDiscover prints the catalog. It needs no credentials.
func runDiscover(cmd *cobra.Command, opts *rootOptions) error {
	streams, err := catalog.Select(opts.streams)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(catalog.Discover(streams))
}
