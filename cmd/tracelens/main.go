package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tracelens/internal/config"
)

var (
	// Global flags
	verbose    bool
	configFile string
	outDir     string
	overwrite  bool

	// Pass flags
	strict          bool
	strictCompileID bool
	plainText       bool
	export          bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tracelens",
	Short: "tracelens - structured compilation trace log analyzer",
	Long: `tracelens ingests structured compilation trace logs and materializes a
report directory per rank: one artifact file per logged graph, guard set,
generated code dump and metrics record, keyed by compile id.

Given a directory of per-rank logs, it additionally compares the ranks'
behavior (cache interactions, collective schedules, tensor metadata,
estimated graph runtimes) and reports where they diverged.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// buildConfig layers the optional config file under the explicitly set
// flags, so flags always win.
func buildConfig(cmd *cobra.Command) (config.ParseConfig, error) {
	var cfg config.ParseConfig
	if configFile != "" {
		if err := config.LoadFile(configFile, &cfg); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("strict") {
		cfg.Strict = strict
	}
	if flags.Changed("strict-compile-id") {
		cfg.StrictCompileID = strictCompileID
	}
	if flags.Changed("plain-text") {
		cfg.PlainText = plainText
	}
	if flags.Changed("export") {
		cfg.Export = export
	}
	cfg.Verbose = cfg.Verbose || verbose
	return cfg, nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional YAML config file")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", "tl_out", "Output directory")
	rootCmd.PersistentFlags().BoolVar(&overwrite, "overwrite", false, "Replace the output directory if it exists")

	// Pass flags
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Fail on any accumulated parse failure")
	rootCmd.PersistentFlags().BoolVar(&strictCompileID, "strict-compile-id", false, "Fail if any record lacks a compile id")
	rootCmd.PersistentFlags().BoolVar(&plainText, "plain-text", false, "Prefer diff-friendly plain text output")
	rootCmd.PersistentFlags().BoolVar(&export, "export", false, "Export-debugging handler set")

	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(ranksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
