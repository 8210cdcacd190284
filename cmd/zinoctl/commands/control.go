package commands

import (
	"github.com/spf13/cobra"
)

func pollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll <router> [ifindex]",
		Short: "Queue an immediate poll of a router or one interface",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 2 {
				return runSimple("POLLINTF", args[0], args[1])
			}
			return runSimple("POLLRTR", args[0])
		},
	}
	return cmd
}

func clearFlapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-flap <router> <ifindex>",
		Short: "Clear an interface's flap score and restore its port state",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("CLEARFLAP", args[0], args[1])
		},
	}
}

func communityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "community <router>",
		Short: "Show a router's configured SNMP community string",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("COMMUNITY", args[0])
		},
	}
}

func pmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pm",
		Short: "Manage planned-maintenance windows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List planned maintenances",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSimple("PM", "LIST")
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <start> <end> <kind> <match-type> <expr> [device]",
		Short: "Add a planned maintenance (start/end as Unix seconds)",
		Long:  "kind is device or portstate; match-type is exact, regexp, str or intf-regexp (the last also needs the device argument).",
		Args:  cobra.RangeArgs(5, 6),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple(append([]string{"PM", "ADD"}, args...)...)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a planned maintenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("PM", "CANCEL", args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "details <id>",
		Short: "Show one planned maintenance in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("PM", "DETAILS", args[0])
		},
	})

	return cmd
}
