// Package cmd provides the command-line interface of tfsim.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Environment variables that provide defaults for flags. They can also be set
// in a .env file in the working directory.
const (
	EnvLogLevel    = "TFSIM_LOG_LEVEL"
	EnvMonitorPort = "TFSIM_MONITOR_PORT"
)

const dotEnvFile = ".env"

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tfsim",
	Short: "tfsim simulates producers and consumers connected by timed queues.",
	Long: `tfsim simulates producers and consumers connected by timed queues. ` +
		`It records every queue event into a trace database and reports ` +
		`latency, stalls and occupancy of each queue.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupLogging(cmd)
	},
}

func setupLogging(cmd *cobra.Command) error {
	level := logLevel
	if !cmd.Flags().Changed("log") {
		if env := os.Getenv(EnvLogLevel); env != "" {
			level = env
		}
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}

	logrus.SetLevel(parsed)

	return nil
}

// loadDotEnv loads the .env file if there is one. Variables already set in
// the environment win.
func loadDotEnv(filename string) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return godotenv.Load(filename)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It exits through atexit so that recorders are flushed.
func Execute() {
	if err := loadDotEnv(dotEnvFile); err != nil {
		logrus.WithError(err).Warn("Cannot load " + dotEnvFile)
	}

	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level (trace, debug, info, warn, error, fatal, panic). "+
			"Defaults to $"+EnvLogLevel+" when set.")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSummarizeCmd())
}
