// Package cmd contains CLI command definitions
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Logger is the shared logger instance for all commands
	Logger *logrus.Logger

	verbose bool
	envFile string

	rootCmd = &cobra.Command{
		Use:   "atrunner",
		Short: "atrunner - scripted AT command test runner",
		Long: `atrunner loads a tree of test cases from a YAML plan, opens a serial port and
drives scripted command/response exchanges with the attached device.

Run without arguments to launch interactive mode, or use subcommands for direct operations.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				Logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// InitLogger (re)initializes the shared logger from LOG_LEVEL. Call it again
// after loading an alternate env file.
func InitLogger() {
	Logger = newLogger(os.Getenv("LOG_LEVEL"))
}

func init() {
	InitLogger()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logs and device traffic)")
	// Consumed by main before cobra runs; declared so cobra accepts it.
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Alternate env file to load")
}
