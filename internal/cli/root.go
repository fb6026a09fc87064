// Package cli implements the pickle command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/maco144/pickle/internal/daemon"
	"github.com/maco144/pickle/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pickle",
	Short: "pickle: a work-assignment economy simulator",
	Long: `pickle simulates a pool of validators competing for queued work.
Items are routed with a noisy specialization policy, paid from a linear
bonding curve, and can be flooded in bulk and drained back down.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configFile string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $PICKLE_HOME/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: info, debug, trace (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given, $PICKLE_HOME/config.toml otherwise.
func loadConfig() (daemon.Config, error) {
	if configFile != "" {
		return daemon.LoadConfigFile(configFile)
	}
	return daemon.LoadConfig()
}

// newLogger builds the process logger from config and flag overrides.
func newLogger(cfg daemon.Config) (logr.Logger, error) {
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	return logging.New(level, format, os.Stderr)
}
