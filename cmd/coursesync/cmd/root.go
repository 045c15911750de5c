package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tazhate/coursesync/config"
	"github.com/tazhate/coursesync/internal/logging"
)

// Global flags.
var (
	configPath string
	dbPath     string
	logLevel   string
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coursesync",
	Short: "Sync a Canvas calendar feed into CalDAV and Todoist",
	Long: `coursesync reads a Canvas LMS calendar feed, routes each entry by course
and kind, and keeps a CalDAV calendar and Todoist projects in step with it.
Only items created by coursesync are ever updated or removed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config %s: %w", configPath, err)
		}
		if dbPath != "" {
			c.DatabasePath = dbPath
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		cfg = c
		logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "coursesync.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}
