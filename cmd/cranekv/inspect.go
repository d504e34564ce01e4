package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yashagw/cranekv/internal/log"
	"github.com/yashagw/cranekv/internal/redo"
	"github.com/yashagw/cranekv/internal/simulate"
)

var (
	inspectDir          string
	inspectTransactions int
	inspectFrom         int64
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the decoded redo log",
		Long: "Print the decoded redo log kept in --dir (or log.dir). Without a log " +
			"directory a short in-memory workload is run first and its log is printed.",
		Args: cobra.NoArgs,
		RunE: runInspectCommandFunc,
	}
	cmd.Flags().StringVarP(&inspectDir, "dir", "d", "", "directory of the log to inspect")
	cmd.Flags().IntVarP(&inspectTransactions, "transactions", "n", 8, "number of transactions of the in-memory workload")
	cmd.Flags().Int64Var(&inspectFrom, "from", -1, "first offset to decode, -1 starts at the truncation offset")
	return cmd
}

func runInspectCommandFunc(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cmd.Flags().Changed("dir") {
		cfg.Log.Dir = inspectDir
	}

	var (
		lm       *log.Manager
		strategy redo.Strategy
	)
	if cfg.Log.Dir != "" {
		lm, err = log.Open(cfg.Log.Dir, log.Options{
			Capacity:      cfg.Log.Capacity,
			MaxRecordSize: cfg.Log.MaxRecordSize,
			BlockSize:     cfg.Log.BlockSize,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		defer lm.Close()
		strategy, err = redo.New(cfg.Strategy, lm, redo.Options{
			FixedSlotSize: cfg.Redo.FixedSlotSize,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
	} else {
		cfg.Simulate.Transactions = inspectTransactions
		cfg.Simulate.CrashEvery = 0
		sim, err := simulate.New(cfg, logger)
		if err != nil {
			return err
		}
		if _, err := sim.Run(cmd.Context()); err != nil {
			return err
		}
		lm, strategy = sim.Log(), sim.Strategy()
	}

	from := inspectFrom
	if from < 0 {
		from = lm.TruncationOffset()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s log, truncation %d, end %d\n", strategy.Name(), lm.TruncationOffset(), lm.EndOffset())

	it := strategy.Iterator(from)
	for it.HasNext() {
		rec, ok := it.Next()
		if !ok {
			break
		}
		fmt.Fprintln(out, rec)
	}
	if it.Torn() {
		fmt.Fprintf(out, "# torn record at %d\n", it.Pos())
	}
	return it.Err()
}
