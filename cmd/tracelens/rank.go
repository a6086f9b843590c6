package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tracelens/internal/parse"
	"tracelens/internal/report"
)

var latest bool

// rankCmd parses a single rank's trace log into a report directory.
var rankCmd = &cobra.Command{
	Use:   "rank [logfile]",
	Short: "Analyze a single trace log",
	Long: `Parses one structured trace log and writes the report directory: one
subdirectory per compile id holding the graph, guard and code artifacts, plus
the aggregate index files (compile_directory.json, raw.jsonl, trace_events.json,
failures_and_restarts.json).

With --latest the argument is a directory and the most recently modified .log
file in it is analyzed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRank,
}

func init() {
	rankCmd.Flags().BoolVar(&latest, "latest", false, "Treat the argument as a directory and pick its newest .log file")
}

func runRank(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logPath := args[0]
	if latest {
		logPath, err = latestLog(logPath)
		if err != nil {
			return err
		}
		logger.Info("selected latest log", zap.String("path", logPath))
	}

	if err := report.SetupOutputDir(outDir, overwrite); err != nil {
		return err
	}

	files, stats, passErr := parse.Run(logPath, parse.Options{
		Config: cfg,
		Logger: logger,
	})
	if err := report.Write(outDir, files, logger); err != nil {
		return err
	}

	fmt.Printf("wrote %d files to %s (%s)\n", len(files), outDir, stats.String())
	return passErr
}

// latestLog picks the most recently modified .log file in dir.
func latestLog(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", dir, err)
	}
	var best string
	var bestMod int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best = filepath.Join(dir, entry.Name())
			bestMod = mod
		}
	}
	if best == "" {
		return "", fmt.Errorf("no .log files in %s", dir)
	}
	return best, nil
}
