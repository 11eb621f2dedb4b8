// Command bench drives the standard workload suite against a single
// lsmkv engine and prints throughput, latency, and amplification for
// each scenario.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvforge/lsmkv/engine"
	"github.com/kvforge/lsmkv/internal/benchmark"
)

func main() {
	var quick bool
	var workloadName string
	var duration time.Duration
	var concurrency int

	root := &cobra.Command{
		Use:   "bench",
		Short: "Run the lsmkv benchmark suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(quick, workloadName, duration, concurrency, cmd)
		},
	}
	root.Flags().BoolVar(&quick, "quick", false, "shorten each scenario's duration for a fast local run")
	root.Flags().StringVar(&workloadName, "workload", "all", "scenario to run (all, or one of the standard scenario names)")
	root.Flags().DurationVar(&duration, "duration", 0, "override each scenario's measured duration")
	root.Flags().IntVar(&concurrency, "concurrency", 0, "override each scenario's worker concurrency")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBench(quick bool, workloadName string, duration time.Duration, concurrency int, cmd *cobra.Command) error {
	configs := benchmark.StandardWorkloads()

	if quick {
		for i := range configs {
			configs[i].Duration = 1 * time.Second
			configs[i].PreloadKeys /= 10
		}
	}
	if duration > 0 {
		for i := range configs {
			configs[i].Duration = duration
		}
	}
	if concurrency > 0 {
		for i := range configs {
			configs[i].Concurrency = concurrency
		}
	}

	if workloadName != "all" {
		filtered := configs[:0]
		for _, c := range configs {
			if c.Name == workloadName {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("unknown workload: %s", workloadName)
		}
		configs = filtered
	}

	fmt.Println("lsmkv benchmark suite")
	fmt.Println(strings.Repeat("=", 60))

	results := make([]*benchmark.Result, 0, len(configs))
	for _, config := range configs {
		fmt.Printf("\n=== %s ===\n", config.Name)

		dir, err := os.MkdirTemp("", "lsmkv-bench-*")
		if err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}

		e, err := engine.Open(dir)
		if err != nil {
			os.RemoveAll(dir)
			return fmt.Errorf("open engine: %w", err)
		}

		b := benchmark.NewBenchmark(e, config)
		result, err := b.Run()
		closeErr := e.Close()
		os.RemoveAll(dir)
		if err != nil {
			return fmt.Errorf("run %s: %w", config.Name, err)
		}
		if closeErr != nil {
			return fmt.Errorf("close engine after %s: %w", config.Name, closeErr)
		}

		results = append(results, result)
		printResult(result)
	}

	printSummaryTable(results)
	return nil
}

func printResult(r *benchmark.Result) {
	fmt.Printf("  throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("  total ops:  %d (writes: %d, reads: %d)\n", r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("  write latency: min=%s mean=%s p50=%s p95=%s p99=%s p999=%s max=%s\n",
			r.WriteLatency.Min, r.WriteLatency.Mean, r.WriteLatency.P50,
			r.WriteLatency.P95, r.WriteLatency.P99, r.WriteLatency.P999, r.WriteLatency.Max)
	}
	if r.ReadOps > 0 {
		fmt.Printf("  read latency:  min=%s mean=%s p50=%s p95=%s p99=%s p999=%s max=%s\n",
			r.ReadLatency.Min, r.ReadLatency.Mean, r.ReadLatency.P50,
			r.ReadLatency.P95, r.ReadLatency.P99, r.ReadLatency.P999, r.ReadLatency.Max)
	}

	fmt.Printf("  write amplification: %.2fx\n", r.WriteAmplification)
	fmt.Printf("  space amplification: %.2fx\n", r.SpaceAmplification)
	fmt.Printf("  files per level:     %v\n", r.EngineStats.FilesPerLevel)
}

func printSummaryTable(results []*benchmark.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("summary")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("%-22s %12s %12s %12s %10s\n", "scenario", "throughput", "write p99", "read p99", "write amp")

	for _, r := range results {
		writeP99 := "n/a"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}
		readP99 := "n/a"
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}
		fmt.Printf("%-22s %10.0f/s %12s %12s %9.2fx\n", r.Config.Name, r.OpsPerSec, writeP99, readP99, r.WriteAmplification)
	}
}
