package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/scantech/usbrelay/internal/daemon"
)

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the usbrelay daemon",
		Long: `Stop the usbrelay daemon, stopping the relay process and tearing down
any internet sharing it set up.`,
		Aliases: []string{"shutdown", "quit"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STOP")
			if err != nil {
				slog.Warn("Daemon is not running")
				return
			}
			response.LogMessages()

			// Wait for daemon to fully shut down
			maxWait := 5 * time.Second
			pollInterval := 100 * time.Millisecond
			elapsed := time.Duration(0)

			for elapsed < maxWait {
				time.Sleep(pollInterval)
				elapsed += pollInterval

				if _, err := daemon.SendCommand("VERSION"); err != nil {
					slog.Debug("Daemon shutdown confirmed")
					return
				}
			}

			slog.Warn("Daemon did not shut down within timeout, but stop command was sent")
		},
	}
}
