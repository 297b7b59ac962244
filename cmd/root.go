package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scantech/usbrelay/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "usbrelay",
		Short: "USB Relay - reverse tethering manager",
		Long: `USB Relay - reverse tethering manager

Watches for USB-attached devices and gives them internet access through
this machine, either by running a relay process over an adb reverse
tunnel or by sharing the host connection onto an RNDIS adapter.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := core.InitializeConfig(configPath); err != nil {
				return err
			}
			core.Config.Verbose = verbose
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewStartCommand(),
		NewStatusCommand(),
		NewStopCommand(),
		NewLogsCommand(),
		NewVersionCommand(),
		NewDaemonCommand(),
	)

	return rootCmd
}
