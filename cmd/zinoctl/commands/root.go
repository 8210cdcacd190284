package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverAddr is the daemon command-channel address (host:port).
	serverAddr string

	// notifyAddr is the daemon notification-channel address, used by
	// the monitor command.
	notifyAddr string

	// userName and secret authenticate the session; the secret can also
	// come from the ZINO_SECRET environment variable so it stays out of
	// shell history.
	userName string
	secret   string
)

// newRootCmd builds the command tree. The interactive shell embeds the
// same tree minus itself, so construction is a function rather than a
// package-level singleton.
func newRootCmd(includeShell bool) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zinoctl",
		Short: "CLI client for the Zino daemon",
		Long:  "zinoctl speaks the Zino operator line protocol to inspect and manage network events.",
		// Silence cobra's built-in usage/error printing so we control it.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:8001",
		"zino daemon command-channel address (host:port)")
	rootCmd.PersistentFlags().StringVar(&notifyAddr, "notify-server", "localhost:8002",
		"zino daemon notification-channel address (host:port)")
	rootCmd.PersistentFlags().StringVar(&userName, "user", os.Getenv("USER"),
		"operator username")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("ZINO_SECRET"),
		"operator secret (defaults to $ZINO_SECRET)")

	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(clearFlapCmd())
	rootCmd.AddCommand(communityCmd())
	rootCmd.AddCommand(pmCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	if includeShell {
		rootCmd.AddCommand(shellCmd())
	}

	return rootCmd
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := newRootCmd(true).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
