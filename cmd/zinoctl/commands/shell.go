package commands

import (
	"fmt"
	"os"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive zinoctl shell",
		Long:  "Launches a REPL that accepts zinoctl subcommands with completion and history. Type 'exit' or Ctrl+D to leave.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("zinoctl")

			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				// A fresh tree per prompt keeps flag state from leaking
				// between lines; the shell itself is excluded so it
				// can't nest.
				root := newRootCmd(false)
				root.AddCommand(exitCmd())
				return root
			})

			fmt.Println("Zino interactive shell. Type 'help' for available commands, 'exit' to quit.")
			return app.Start()
		},
	}
}

func exitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit",
		Short: "Leave the interactive shell",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			os.Exit(0)
		},
	}
}
