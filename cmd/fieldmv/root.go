package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fieldmv/internal/config"
	"fieldmv/internal/logging"
	"fieldmv/internal/version"
)

var (
	// rootFlag is the source-tree root every subcommand operates on
	rootFlag string
	// logFormatFlag and logLevelFlag override the configured logging
	logFormatFlag string
	logLevelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "fieldmv",
	Short: "fieldmv - field and method rename propagation",
	Long: `fieldmv detects field/method renames between two snapshots of an
object-relational addon tree and applies approved renames across declarations,
references, decorator arguments, inheritance re-declarations and view markup,
with per-file rollback.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("fieldmv version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".", "Source-tree root directory")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: json or human")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
}

// loadRun loads configuration for the current --root and builds the logger,
// with CLI flags taking precedence over config values.
func loadRun() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(rootFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot load configuration: %w", err)
	}

	format := cfg.Logging.Format
	if logFormatFlag != "" {
		format = logFormatFlag
	}
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}

	logger := logging.NewLogger(logging.Config{
		Format: logging.Format(format),
		Level:  logging.ParseLevel(level),
	})
	return cfg, logger, nil
}

// fail prints an error and exits non-zero. Subcommands treat any run-level
// failure uniformly.
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
