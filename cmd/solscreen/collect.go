package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/dump"
	"github.com/solscreen/solscreen/internal/lock"
	"github.com/solscreen/solscreen/internal/metrics"
	"github.com/solscreen/solscreen/internal/pipeline"
	"github.com/solscreen/solscreen/internal/scheduler"
)

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "One-shot snapshot collection by token or pair addresses",
		Long: `Fetches current pair data for the given addresses and persists one
snapshot per pair. Addresses are a comma-separated list or a path to a
CSV file whose first column holds addresses.`,
		RunE: runCollect,
	}
	cmd.Flags().String("tokens", "", "Token addresses (list or CSV file)")
	cmd.Flags().String("pairs", "", "Pair addresses (list or CSV file)")
	cmd.Flags().Bool("no-prune", false, "Skip pruning after the collection pass")
	return cmd
}

func runCollect(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	tokens, _ := cmd.Flags().GetString("tokens")
	pairs, _ := cmd.Flags().GetString("pairs")
	if (tokens == "") == (pairs == "") {
		return fmt.Errorf("exactly one of --tokens or --pairs is required")
	}

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

	col := pipeline.NewCollector(rt.newClient(), s, dump.NewUpdater(s, rt.log), rt.log)
	ctx := cmd.Context()

	var stats pipeline.CycleStats
	if tokens != "" {
		stats, err = col.CollectForTokens(ctx, pipeline.ParseAddressesInput(tokens))
	} else {
		stats, err = col.CollectForPairs(ctx, pipeline.ParseAddressesInput(pairs))
	}
	if err != nil {
		return err
	}

	if noPrune, _ := cmd.Flags().GetBool("no-prune"); !noPrune {
		if _, err := s.PruneByPairAge(ctx, rt.cfg.PruneMaxAgeH, false, false); err != nil {
			rt.log.Warn().Err(err).Msg("prune after collect failed")
		}
		if _, err := s.PruneDumpWatchlist(ctx, config.DumpWatchlistTTLHours); err != nil {
			rt.log.Warn().Err(err).Msg("dump watchlist prune failed")
		}
	}

	rt.log.Info().
		Int("processed", stats.Processed).
		Int("errors", stats.Errors).
		Int("skipped", stats.Skipped).
		Msg("collect finished")
	fmt.Printf("processed=%d errors=%d skipped=%d\n", stats.Processed, stats.Errors, stats.Skipped)
	return nil
}

func newCollectNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect-new",
		Short: "Continuously discover and snapshot newly profiled tokens",
		Long: `Polls the latest token profiles, snapshots their pairs, and keeps the
store pruned. A first interrupt finishes the current cycle; a second
stops immediately.`,
		RunE: runCollectNew,
	}
	cmd.Flags().Int("interval-sec", 0, "Seconds between cycles (default from config)")
	cmd.Flags().Int("limit-per-cycle", 0, "Max token profiles per cycle (0 = all)")
	cmd.Flags().Bool("no-prune", false, "Disable auto-pruning after each cycle")
	cmd.Flags().Float64("prune-max-age-hours", 0, "Pair retention for auto-prune (default from config)")
	return cmd
}

func runCollectNew(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}

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

	intervalSec, _ := cmd.Flags().GetInt("interval-sec")
	if intervalSec <= 0 {
		intervalSec = int(rt.cfg.IntervalSec)
	}
	limit, _ := cmd.Flags().GetInt("limit-per-cycle")
	noPrune, _ := cmd.Flags().GetBool("no-prune")
	maxAge, _ := cmd.Flags().GetFloat64("prune-max-age-hours")
	if maxAge <= 0 {
		maxAge = rt.cfg.PruneMaxAgeH
	}

	client := rt.newClient()
	col := pipeline.NewCollector(client, s, dump.NewUpdater(s, rt.log), rt.log)

	var met *metrics.Set
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if rt.cfg.MetricsAddr != "" {
		met = metrics.NewSet()
		srv := metrics.NewServer(rt.cfg.MetricsAddr, met, rt.log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				rt.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	sched := scheduler.New(client, col, s, met, scheduler.Options{
		IntervalSec:      intervalSec,
		LimitPerCycle:    limit,
		AutoPrune:        !noPrune,
		PruneMaxAgeHours: maxAge,
	}, rt.log)

	// First signal drains the current cycle, second one hard-stops.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		sched.StopAfterCycle()
		<-sigCh
		rt.log.Warn().Msg("second signal, stopping now")
		cancel()
	}()

	err = sched.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
