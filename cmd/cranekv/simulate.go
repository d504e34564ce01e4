package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yashagw/cranekv/internal/simulate"
)

var (
	transactionsArg int
	crashEveryArg   int
	seedArg         uint64
	simulateDir     string
	metricsAddr     string
)

func newSimulateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a random workload with crash injection and verify every recovery",
		Args:  cobra.NoArgs,
		RunE:  runSimulateCommandFunc,
	}
	cmd.Flags().IntVarP(&transactionsArg, "transactions", "n", 0, "number of transactions")
	cmd.Flags().IntVar(&crashEveryArg, "crash-every", 0, "average number of log IOs between crashes, 0 disables crashes")
	cmd.Flags().Uint64Var(&seedArg, "seed", 0, "workload seed")
	cmd.Flags().StringVarP(&simulateDir, "dir", "d", "", "keep the log in this directory")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func runSimulateCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cmd.Flags().Changed("transactions") {
		cfg.Simulate.Transactions = transactionsArg
	}
	if cmd.Flags().Changed("crash-every") {
		cfg.Simulate.CrashEvery = crashEveryArg
	}
	if cmd.Flags().Changed("seed") {
		cfg.Simulate.Seed = seedArg
	}
	if cmd.Flags().Changed("dir") {
		cfg.Log.Dir = simulateDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if metricsAddr != "" {
		go func() {
			logger.Info("serving metrics", zap.String("addr", metricsAddr))
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	sim, err := simulate.New(cfg, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	report, err := sim.Run(cmd.Context())
	if err != nil {
		logger.Error("simulation failed", zap.Error(err), zap.Int("transactions", report.Transactions))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "strategy      %s\n", report.Strategy)
	fmt.Fprintf(out, "transactions  %d (committed %d, aborted %d, failed %d)\n",
		report.Transactions, report.Committed, report.Aborted, report.Failed)
	fmt.Fprintf(out, "crashes       %d\n", report.Crashes)
	fmt.Fprintf(out, "recovery      replayed %d, discarded %d, writes %d\n",
		report.Replayed, report.Discarded, report.Writes)
	fmt.Fprintf(out, "log           end %d, truncation %d\n", report.LogEnd, report.Truncation)
	fmt.Fprintf(out, "keys          %d\n", report.Keys)
	fmt.Fprintf(out, "took          %s\n", time.Since(start))
	return nil
}
