package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			keys := opts.v.AllKeys()
			slices.Sort(keys)

			out := cmd.OutOrStdout()
			for _, key := range keys {
				fmt.Fprintf(out, "%s = %v\n", key, opts.v.Get(key))
			}
			fmt.Fprintf(out, "effective sync mode = %s\n", cfg.SyncMode())

			return nil
		},
	}
}
