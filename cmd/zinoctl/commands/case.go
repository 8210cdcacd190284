package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func caseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Inspect and manage events",
	}

	cmd.AddCommand(caseListCmd())
	cmd.AddCommand(caseShowCmd())
	cmd.AddCommand(caseHistoryCmd())
	cmd.AddCommand(caseLogCmd())
	cmd.AddCommand(caseSetStateCmd())
	cmd.AddCommand(caseAddHistCmd())

	return cmd
}

// --- case list ---

func caseListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the ids of every non-closed event",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSimple("CASEIDS")
		},
	}
}

// --- case show ---

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an event's attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("GETATTRS", args[0])
		},
	}
}

// --- case history / case log ---

func caseHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show an event's audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("GETHIST", args[0])
		},
	}
}

func caseLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <id>",
		Short: "Show an event's operator log",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("GETLOG", args[0])
		},
	}
}

// --- case set-state ---

func caseSetStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <id> <state>",
		Short: "Transition an event to a new state",
		Long:  "Valid states: open, working, waiting, confirm-wait, ignored, closed.",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimple("SETSTATE", args[0], args[1])
		},
	}
}

// --- case add-history ---

func caseAddHistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-history <id>",
		Short: "Append a history entry to an event",
		Long:  "Reads the entry text from stdin until EOF or a line containing only \".\".",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.cmd("ADDHIST", args[0])
			if err != nil {
				return err
			}
			if resp.code != 300 {
				return fmt.Errorf("server: %s", resp.text())
			}

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "." {
					break
				}
				if err := c.writeLine(line); err != nil {
					return err
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			if err := c.writeLine("."); err != nil {
				return err
			}

			final, err := c.readReply()
			if err != nil {
				return err
			}
			if err := final.err(); err != nil {
				return err
			}
			fmt.Println(final.text())
			return nil
		},
	}
}

// runSimple dials, runs one command, prints the response body, and
// closes the session.
func runSimple(words ...string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.close()

	resp, err := c.cmd(words...)
	if err != nil {
		return err
	}
	if err := resp.err(); err != nil {
		return err
	}
	out := resp.text()
	if strings.TrimSpace(out) != "" {
		fmt.Println(out)
	}
	return nil
}
