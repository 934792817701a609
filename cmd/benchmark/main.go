// Benchmark tool for the Kestrel scoring engines.
//
// Usage:
//   go run cmd/benchmark/main.go -count 100000 -seed 42 -workers 8
//
// This tool:
//   1. Generates a reproducible synthetic transaction sample
//   2. Runs the full batch rule battery over it
//   3. Runs single-transaction analysis for a slice of the sample
//   4. Prints throughput numbers and the fraud summary report
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/sample"
)

func main() {
	count := flag.Int("count", 100000, "Number of transactions to generate")
	seed := flag.Int64("seed", 42, "Random seed for the sample generator")
	workers := flag.Int("workers", 8, "Number of concurrent scoring workers")
	analyses := flag.Int("analyses", 100, "Number of single-transaction analyses to run")
	printReport := flag.Bool("report", false, "Print the full fraud summary report")
	flag.Parse()

	if *count <= 0 {
		fmt.Println("Usage: benchmark [-count 100000] [-seed 42] [-workers 8]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL BENCHMARK - Synthetic Scoring              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTransactions: %d\n", *count)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Println()

	// 1. Generate sample data
	genStart := time.Now()
	gen := sample.NewGenerator(*seed, time.Now().UTC())
	txs := gen.Transactions(*count)
	fmt.Printf("Generated %d transactions in %s\n", len(txs), time.Since(genStart).Round(time.Millisecond))

	settings := domain.DefaultSettings()
	scorer := engine.NewBatchScorer(engine.WithMaxWorkers(*workers))

	// 2. Batch scoring
	scoreStart := time.Now()
	scored := scorer.Score(txs, settings)
	scoreDur := time.Since(scoreStart)

	stats := engine.Statistics(scored)

	fmt.Println()
	fmt.Println("BATCH SCORING")
	fmt.Printf("  Duration:       %s\n", scoreDur.Round(time.Millisecond))
	fmt.Printf("  Throughput:     %.0f tx/s\n", float64(len(scored))/scoreDur.Seconds())
	fmt.Printf("  Flagged fraud:  %d (%.2f%%)\n", stats.FraudTransactions, stats.FraudRate*100)
	fmt.Printf("  High risk:      %d\n", stats.HighRiskTransactions)
	fmt.Printf("  Medium risk:    %d\n", stats.MediumRiskTransactions)
	fmt.Printf("  Avg risk score: %.4f\n", stats.AverageRiskScore)

	// 3. Single-transaction analysis over the same population
	n := *analyses
	if n > len(txs) {
		n = len(txs)
	}
	if n > 0 {
		analyzer := engine.NewAnalyzer()

		analyzeStart := time.Now()
		var blocked, reviewed int
		for i := 0; i < n; i++ {
			analysis := analyzer.Analyze(txs[len(txs)-1-i], txs)
			switch analysis.Recommendation.Action {
			case domain.ActionBlock:
				blocked++
			case domain.ActionReview:
				reviewed++
			}
		}
		analyzeDur := time.Since(analyzeStart)

		fmt.Println()
		fmt.Println("SINGLE-TRANSACTION ANALYSIS")
		fmt.Printf("  Analyses:    %d\n", n)
		fmt.Printf("  Duration:    %s\n", analyzeDur.Round(time.Millisecond))
		fmt.Printf("  Avg latency: %s\n", (analyzeDur / time.Duration(n)).Round(time.Microsecond))
		fmt.Printf("  Blocked:     %d\n", blocked)
		fmt.Printf("  Review:      %d\n", reviewed)
	}

	// 4. Optional full report
	if *printReport {
		fmt.Println()
		fmt.Println(report.Summary(scored, time.Now().UTC()))
	}
}
