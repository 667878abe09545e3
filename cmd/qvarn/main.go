package main

import (
	"os"

	"github.com/qvarn/qvarn/internal/ui"
	"github.com/spf13/cobra"
)

var (
	configPath string
	noColor    bool
)

func defaultConfigPath() string {
	return os.Getenv("QVARN_CONFIG")
}

var rootCmd = &cobra.Command{
	Use:          "qvarn <command>",
	Short:        "Structured record store with a generic REST API",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !ui.ColorEnabled(cmd.OutOrStdout()) {
			ui.ForceNoColor()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)

	cobra.EnableCommandSorting = false

	// Server
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(prepareCmd)

	// Tools
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
