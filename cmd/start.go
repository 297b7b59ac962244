package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scantech/usbrelay/internal/daemon"
)

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the usbrelay daemon",
		Long: `Start the usbrelay daemon in the background.

The daemon watches for devices and manages connectivity until explicitly
stopped with 'usbrelay stop'.

If the daemon is already running, this command will report its status.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			// Check if daemon is already running
			if response, err := daemon.SendCommand("VERSION"); err == nil {
				if versionData, ok := response.Data.(map[string]interface{}); ok {
					if version, ok := versionData["version"].(string); ok {
						slog.Info(fmt.Sprintf("Daemon is already running (version %s)", version))
						return
					}
				}
				slog.Info("Daemon is already running")
				return
			}

			slog.Info("Starting usbrelay daemon...")
			if err := daemon.StartDaemon(); err != nil {
				slog.Error(fmt.Sprintf("Failed to start daemon: %v", err))
				return
			}
			slog.Info("Daemon started successfully")
		},
	}
}
