package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/marginalia-app/marginalia/internal/api"
	"github.com/marginalia-app/marginalia/version"
)

var (
	cfgFile      string
	logLevel     string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "marginalia",
	Short: "Reading companion that enriches book chapters with LLM analysis",
	Long: `Marginalia imports EPUB books and analyzes each chapter with an LLM,
producing a summary, insight annotations, quiz questions and image
suggestions anchored to the exact paragraph they refer to.

The pipeline includes:
  - EPUB import with chapter segmentation into addressable blocks
  - Garbage classification of front and back matter
  - Streaming analysis with live discovery progress
  - Block-anchored persistence of everything the model produces`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.marginalia/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger from the --log-level flag.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
