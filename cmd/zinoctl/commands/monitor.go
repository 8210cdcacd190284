package commands

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Stream event notifications",
		Long:  "Opens a notification channel, ties it to an authenticated command session, and streams event deltas until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The notification channel hands out its tie nonce as the
			// first line; NTIE on the command channel pairs the two.
			notifyConn, err := net.Dial("tcp", notifyAddr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", notifyAddr, err)
			}
			defer notifyConn.Close()
			notifyReader := bufio.NewReader(notifyConn)

			nonceLine, err := notifyReader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read notify nonce: %w", err)
			}
			nonce := strings.TrimSpace(nonceLine)

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.cmd("NTIE", nonce)
			if err != nil {
				return err
			}
			if err := resp.err(); err != nil {
				return fmt.Errorf("tie notification channel: %w", err)
			}

			// Unblock the blocking read when Ctrl+C cancels the context.
			go func() {
				<-ctx.Done()
				notifyConn.Close()
			}()

			for {
				line, err := notifyReader.ReadString('\n')
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("notification stream: %w", err)
				}
				fmt.Print(strings.TrimRight(line, "\r\n") + "\n")
			}
		},
	}
}
