package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "weekplate",
		Short:         "Weekly household meal plans",
		Long:          `weekplate generates printable weekly meal plans in the background and serves them over a JSON API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml)")

	rootCmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newMigrateCommand(),
		newUserCommand(),
		newVAPIDCommand(),
		newBackupCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
