package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/appmon-dev/appmon/internal/config"
)

// cfg holds the effective configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	configPath  string
	logfilePath string
)

var rootCmd = &cobra.Command{
	Use:   "appmon",
	Short: "Monitor foreground-app and process activity into an append-only event log",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Defaults, then the config file, then AAM_* environment variables.
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		// Flags beat all of the above.
		if logfilePath != "" {
			c.LogFile = logfilePath
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the effective configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/appmon/config.json)")
	rootCmd.PersistentFlags().StringVar(&logfilePath, "logfile", "", "event log path (default app-usage.log)")
}
