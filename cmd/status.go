package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scantech/usbrelay/internal/daemon"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show device and connectivity status",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Warn("Daemon is not running. Use 'usbrelay start' to start it.")
				return
			}

			jsonBytes, _ := json.Marshal(response.Data)
			status := daemon.DaemonStatus{}
			json.Unmarshal(jsonBytes, &status)

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				fmt.Printf("Mode: %s (daemon PID: %d)\n", status.Mode, status.Pid)
				if status.DeviceState == "attached" {
					since, _ := time.Parse(time.RFC3339, status.AttachedSince)
					age := time.Since(since)
					fmt.Printf("Device: %s (attached %s ago)\n",
						status.DeviceHandle, age.Round(time.Second).String())
				} else {
					fmt.Println("Device: none attached")
				}
				if status.RelayState != "" {
					fmt.Printf("Relay: %s\n", status.RelayState)
				}
				if status.NatMethod != "" {
					fmt.Printf("Sharing: %s\n", status.NatMethod)
				}
			case "json":
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}
