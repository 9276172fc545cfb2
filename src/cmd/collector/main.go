// Package main provides the build collector CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"build-collector/src/config"
	"build-collector/src/logger"
)

var (
	// Path of the TOML config file; empty means defaults plus environment.
	configPath string
	// Application configuration
	appConfig *config.Config
	// Logger shared by every command
	appLogger logger.Logger
	// closeLog flushes the log file, if any
	closeLog = func() {}
	// verbose forces debug logging on the console
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "build-collector",
	Short: "Collects jobs and builds from Bamboo CI servers",
	Long: `build-collector polls one or more Bamboo servers on a cron schedule and
keeps a store of their build plans (jobs) and build results up to date.

New jobs are registered disabled. Builds are only collected for jobs that a
dashboard component references; see 'attach'.

Configuration is read from --config (TOML) and overridden by environment
variables such as BAMBOO_SERVERS, BAMBOO_USERNAME and BAMBOO_API_KEY.
Set REDIS_ADDR and REDPANDA_BROKERS to run several collectors against one store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appConfig, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		appLogger, closeLog = newLogger(appConfig.Logging)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLog()
	},
}

// newLogger builds the console logger and, when a log file is configured, a
// rotated file logger alongside it.
func newLogger(cfg config.LoggingConfig) (logger.Logger, func()) {
	level := logger.ParseLevel(cfg.Level)
	if verbose {
		level = logger.LevelDebug
	}
	console := logger.NewConsoleLoggerWithLevel(level)
	if cfg.File == "" {
		return console, func() {}
	}

	file := logger.NewFileLogger(logger.FileOptions{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Level:      level,
	})
	return logger.Tee{console, file}, func() { _ = file.Close() }
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(migrateCmd)

	runCmd.Flags().Bool("now", false, "Run a cycle immediately instead of waiting for the first trigger")
	onceCmd.Flags().Bool("json", false, "Print the cycle report as JSON")
	jobsCmd.Flags().Bool("enabled", false, "Only list enabled jobs")
	eventsCmd.Flags().String("group", "build-collector-events", "Consumer group to join")
	eventsCmd.Flags().Bool("from-start", false, "Read each topic from its first event")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
