package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/pkg/version"
)

func newVersionCmd(root *rootOptions) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if root.jsonOut {
				return emit(cmd, root, "version", version.GetInfo(), time.Now())
			}
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	return cmd
}
