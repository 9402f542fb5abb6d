package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/loadtest"
	"github.com/mschirtzinger/nvd-cache/internal/ui"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure cache query latency under concurrent load",
	Long: `Populate a throwaway cache with synthetic CVEs and measure lookup
latency while many readers query it concurrently.

With --writer, a writer keeps replacing records during the run and the
command fails if any reader ever misses a record.

Examples:
  # 50 readers, 20 lookups each, against 10000 records
  nvd bench

  # Heavier run with a description search every 4th query
  nvd bench --workers 200 --records 50000 --text-every 4

  # Readers racing a writer for 5 seconds
  nvd bench --writer 5s`,
	Args: cobra.NoArgs,
	Run:  runBench,
}

func runBench(cmd *cobra.Command, args []string) {
	records, _ := cmd.Flags().GetInt("records")
	workers, _ := cmd.Flags().GetInt("workers")
	queries, _ := cmd.Flags().GetInt("queries")
	textEvery, _ := cmd.Flags().GetInt("text-every")
	writer, _ := cmd.Flags().GetDuration("writer")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	dir, err := os.MkdirTemp("", "nvd-bench-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)
	fail := func(format string, a ...any) {
		fmt.Fprintf(os.Stderr, format, a...)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}

	ctx := cmd.Context()
	start := time.Now()
	fx, err := loadtest.Populate(ctx, filepath.Join(dir, "bench.sqlite3"), records)
	if err != nil {
		fail("Error populating cache: %v\n", err)
	}
	if !jsonOutput {
		fmt.Printf("%s Populated %d records in %v\n", ui.RenderAccent("🔄"), records, time.Since(start).Round(time.Millisecond))
	}

	if writer > 0 {
		if err := fx.RunWithWriter(ctx, workers, writer); err != nil {
			fail("%s Concurrent read/write check failed: %v\n", ui.RenderFail("✗"), err)
		}
		if !jsonOutput {
			fmt.Printf("%s %d readers never missed a record during %v of writes\n", ui.RenderPass("✓"), workers, writer)
		}
	}

	stats, err := fx.Run(ctx, loadtest.Options{Workers: workers, QueriesPerWorker: queries, TextEvery: textEvery})
	if stats == nil {
		fail("Error running benchmark: %v\n", err)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
	} else {
		stats.Write(os.Stdout)
	}
	if err != nil {
		fail("%s %d queries failed: %v\n", ui.RenderWarn("⚠"), stats.Errors, err)
	}
}

func init() {
	benchCmd.Flags().Int("records", 10000, "Number of synthetic records in the cache")
	benchCmd.Flags().Int("workers", 50, "Number of concurrent readers")
	benchCmd.Flags().Int("queries", 20, "Number of queries per reader")
	benchCmd.Flags().Int("text-every", 0, "Make every n-th query a description search (0 disables)")
	benchCmd.Flags().Duration("writer", 0, "Also race readers against a writer for this long")
	benchCmd.Flags().Bool("json", false, "Output statistics as JSON")
	rootCmd.AddCommand(benchCmd)
}
