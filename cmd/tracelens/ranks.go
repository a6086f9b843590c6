package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tracelens/internal/diverge"
	"tracelens/internal/parse"
	"tracelens/internal/report"
)

// ranksCmd analyzes a directory of per-rank trace logs.
var ranksCmd = &cobra.Command{
	Use:   "ranks [directory]",
	Short: "Analyze all rank logs in a directory and compare the ranks",
	Long: `Discovers the per-rank trace logs (dedicated_log_torch_trace_rank_<N>*.log)
in the directory, parses each into its own rank_<N> report directory, then
compares the ranks' cache sequences, collective schedules, tensor metadata
fingerprints and estimated graph runtimes. The aggregate artifacts
(diagnostics.json, runtime_estimations.json, collective_schedules.json, merged
trace files) land next to the rank directories.`,
	Args: cobra.ExactArgs(1),
	RunE: runRanks,
}

func runRanks(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logs, err := diverge.DiscoverRankLogs(args[0])
	if err != nil {
		return err
	}
	ranks := make([]uint32, 0, len(logs))
	for rank := range logs {
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	logger.Info("discovered rank logs", zap.Int("count", len(ranks)))

	if err := report.SetupOutputDir(outDir, overwrite); err != nil {
		return err
	}

	// Each rank's pass is fully independent. Counters, directories and
	// intern tables are all pass-scoped, so only the results slice is
	// shared, and each goroutine writes its own slot.
	type rankResult struct {
		files []parse.File
		stats parse.Stats
	}
	results := make([]rankResult, len(ranks))

	var g errgroup.Group
	for i, rank := range ranks {
		i, rank := i, rank // per-iteration copies; go directive predates Go 1.22 loopvar semantics
		g.Go(func() error {
			files, stats, err := parse.Run(logs[rank], parse.Options{
				Config: cfg,
				Logger: logger.With(zap.Uint32("rank", rank)),
			})
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			results[i] = rankResult{files: files, stats: stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, rank := range ranks {
		rankDir := filepath.Join(outDir, fmt.Sprintf("rank_%d", rank))
		if err := report.Write(rankDir, results[i].files, logger); err != nil {
			return err
		}
		logger.Info("rank report written",
			zap.Uint32("rank", rank),
			zap.String("dir", rankDir),
			zap.String("stats", results[i].stats.String()))
	}

	runID := uuid.NewString()
	diag, err := diverge.AnalyzeRanks(outDir, ranks, runID, logger)
	if err != nil {
		return err
	}

	fmt.Printf("analyzed %d ranks into %s (run %s)\n", len(ranks), outDir, runID)
	if diag.CacheDivergence || diag.ScheduleDivergence || diag.TensorMetaDivergence || diag.CompileIDDivergence {
		fmt.Println("cross-rank divergence detected; see diagnostics.json")
	} else {
		fmt.Println("no cross-rank divergence detected")
	}
	return nil
}
