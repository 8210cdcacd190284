package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/zinolabs/zino/internal/version"
)

func versionCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print zinoctl build information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Println(appversion.Full("zinoctl"))
			if !remote {
				return nil
			}
			return runSimple("VERSION")
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false,
		"also query the connected daemon's version")

	return cmd
}
