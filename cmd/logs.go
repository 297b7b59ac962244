package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scantech/usbrelay/internal/daemon"
)

func NewLogsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Stream daemon logs in real-time",
		Long: `Stream daemon logs in real-time.

Recent history is replayed on connect. Press Ctrl+C to exit.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := daemon.SendCommand("VERSION"); err != nil {
				slog.Error("Daemon is not running. Use 'usbrelay start' to start it.")
				os.Exit(1)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				os.Exit(0)
			}()

			if err := daemon.StreamLogs(); err != nil {
				slog.Error(fmt.Sprintf("Log stream ended: %v", err))
				os.Exit(1)
			}
		},
	}
}
