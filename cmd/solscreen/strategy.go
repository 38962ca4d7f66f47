package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solscreen/solscreen/internal/analysis"
	"github.com/solscreen/solscreen/internal/lock"
	"github.com/solscreen/solscreen/internal/strategy"
)

func newStrategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Run the drawdown screener over live pairs",
		Long: `Classifies every live pair into SIGNAL or watchlist tiers based on the
drop from its validated all-time high, records the decisions, and
enrolls SIGNAL pairs for outcome evaluation.`,
		RunE: runStrategy,
	}
	cmd.Flags().Bool("loop", false, "Re-run on an interval instead of once")
	cmd.Flags().Int("interval-sec", 60, "Seconds between runs with --loop")
	return cmd
}

func runStrategy(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	loop, _ := cmd.Flags().GetBool("loop")
	intervalSec, _ := cmd.Flags().GetInt("interval-sec")

	fl := lock.ForDB(rt.cfg.DBPath, rt.log)
	if err := fl.Acquire(); err != nil {
		return err
	}
	defer fl.Release()

	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	engine := strategy.NewEngine(s, rt.log)
	ctx := cmd.Context()

	if !loop {
		res, err := engine.Run(ctx)
		if err != nil {
			return err
		}
		printScreenerResult(res)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	for {
		res, err := engine.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			rt.log.Error().Err(err).Msg("screener run failed")
		} else {
			printScreenerResult(res)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(intervalSec) * time.Second):
		}
	}
}

func printScreenerResult(res strategy.Result) {
	fmt.Printf("signals=%d wl3=%d wl2=%d wl1=%d bootstrap=%d\n",
		len(res.Signals), len(res.WL3), len(res.WL2), len(res.WL1), len(res.Bootstrap))
	for _, e := range res.Signals {
		fmt.Printf("  SIGNAL %-44s drop=%.1f%% price=%.6g liq=%.0f %s\n",
			e.PairAddress, e.DropFromATH, e.CurrentPrice, e.LiquidityUSD, e.URL)
	}
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Evaluate signal outcomes and print the summary report",
		RunE:  runAnalyze,
	}
	cmd.Flags().Int("trigger-limit", 500, "Max trigger evaluations per run")
	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("trigger-limit")

	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()
	nowTS := time.Now().UnixMilli()

	hDone, hNoData, err := analysis.RunHorizons(ctx, s, nowTS, rt.log)
	if err != nil {
		return err
	}
	tDone, tNoData, err := analysis.RunTriggers(ctx, s, nowTS, limit, rt.log)
	if err != nil {
		return err
	}
	fmt.Printf("evaluated: horizons done=%d no_data=%d; triggers done=%d no_data=%d\n\n",
		hDone, hNoData, tDone, tNoData)

	sum, err := analysis.BuildSummary(ctx, s)
	if err != nil {
		return err
	}
	printSummary(sum)
	return nil
}

func printSummary(sum analysis.Summary) {
	fmt.Printf("signals total=%d done=%d pending=%d no_data=%d\n",
		sum.TotalSignals, sum.TriggerDone, sum.TriggerPending, sum.TriggerNoData)
	fmt.Printf("outcomes: tp1_first=%d sl_first=%d neither=%d\n",
		sum.TP1First, sum.SLFirst, sum.Neither)
	fmt.Printf("rates: tp1=%.1f%% sl=%.1f%% break_even_after_tp1=%.1f%%\n",
		sum.TP1HitRate*100, sum.SLFirstRate*100, sum.BUAfterTP1Rate*100)
	if sum.PostTP1MaxPctAvg != nil {
		fmt.Printf("post-TP1 max: avg=%.1f%%", *sum.PostTP1MaxPctAvg)
		if sum.PostTP1MaxPctMedian != nil {
			fmt.Printf(" median=%.1f%%", *sum.PostTP1MaxPctMedian)
		}
		fmt.Println()
	}

	if len(sum.Top) > 0 {
		fmt.Println("\ntop signals by post-TP1 max:")
		for i, top := range sum.Top {
			fmt.Printf("  %2d. %-44s +%.1f%% entry=%.6g %s\n",
				i+1, top.PairAddress, top.PostTP1MaxPct, top.EntryPrice, top.URL)
		}
	}

	if len(sum.Horizons) > 0 {
		fmt.Println("\nper-horizon returns (done evaluations):")
		for _, h := range sum.Horizons {
			fmt.Printf("  %5ds: n=%d avg_end=%.1f%% avg_max=%.1f%% avg_min=%.1f%%\n",
				h.HorizonSec, h.Done, avg(h.AvgReturnEnd), avg(h.AvgMaxReturn), avg(h.AvgMinReturn))
		}
	}
}

func avg(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
