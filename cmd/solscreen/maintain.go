package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/dump"
	"github.com/solscreen/solscreen/internal/lock"
	"github.com/solscreen/solscreen/internal/pipeline"
	"github.com/solscreen/solscreen/internal/store"
)

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete pairs older than the retention window",
		RunE:  runPrune,
	}
	cmd.Flags().Float64("max-age-hours", 0, "Pair retention (default from config)")
	cmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")
	cmd.Flags().Bool("vacuum", false, "VACUUM the database after pruning")
	return cmd
}

func runPrune(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	maxAge, _ := cmd.Flags().GetFloat64("max-age-hours")
	if maxAge <= 0 {
		maxAge = rt.cfg.PruneMaxAgeH
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	vacuum, _ := cmd.Flags().GetBool("vacuum")

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

	ctx := cmd.Context()
	counts, err := s.PruneByPairAge(ctx, maxAge, dryRun, vacuum)
	if err != nil {
		return err
	}
	expired, err := s.PruneDumpWatchlist(ctx, config.DumpWatchlistTTLHours)
	if err != nil {
		return err
	}

	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}
	fmt.Printf("%s: pairs=%d snapshots=%d tokens=%d; dump watchlist expired=%d\n",
		verb, counts.Pairs, counts.Snapshots, counts.Tokens, expired)
	return nil
}

func newSelfCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "self-check",
		Short: "Verify retention and referential invariants",
		Long: `Checks that no pair or snapshot is older than the retention window and
that no token row is orphaned. Exits 2 when any invariant fails.`,
		RunE: runSelfCheck,
	}
	cmd.Flags().Bool("fix", false, "Prune violations before re-checking")
	cmd.Flags().Float64("max-age-hours", config.SelfCheckAgeHours, "Retention window to verify")
	return cmd
}

func runSelfCheck(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	fix, _ := cmd.Flags().GetBool("fix")
	maxAge, _ := cmd.Flags().GetFloat64("max-age-hours")

	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	if fix {
		fl := lock.ForDB(rt.cfg.DBPath, rt.log)
		if err := fl.Acquire(); err != nil {
			return err
		}
		defer fl.Release()
		if _, err := s.PruneByPairAge(ctx, maxAge, false, false); err != nil {
			return err
		}
		if _, err := s.PruneDumpWatchlist(ctx, config.DumpWatchlistTTLHours); err != nil {
			return err
		}
	}

	counts, err := s.SelfCheckInvariants(ctx, maxAge)
	if err != nil {
		return err
	}
	fmt.Printf("old_pairs=%d old_pair_snapshots=%d orphan_tokens=%d\n",
		counts.OldPairs, counts.OldPairSnapshots, counts.OrphanTokens)
	if !counts.OK() {
		return errInvariant
	}
	fmt.Println("OK")
	return nil
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Smoke-test the upstream API with a known pair",
		RunE:  runCheck,
	}
}

// runCheck exercises the whole path once: fetch a known pair, normalize,
// persist into a throwaway in-memory store, read it back, serialize.
func runCheck(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	// Tighter limits than normal operation: fail fast.
	rt.cfg.TimeoutSec = config.CheckTimeout.Seconds()
	rt.cfg.MaxRetries = config.CheckMaxRetries
	rt.cfg.RateLimitRPS = config.CheckRateLimitRPS
	client := rt.newClient()
	ctx := cmd.Context()

	raws, err := client.PairsByPairAddresses(ctx, []string{config.CheckPairAddress})
	if err != nil {
		return fmt.Errorf("upstream check failed: %w", err)
	}
	if len(raws) == 0 {
		return fmt.Errorf("upstream check returned no pairs for %s", config.CheckPairAddress)
	}

	s, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("store check failed: %w", err)
	}
	defer s.Close()

	col := pipeline.NewCollector(client, s, dump.NewUpdater(s, rt.log), rt.log)
	stats := col.CollectFromRawPairs(ctx, raws, nil)
	if stats.Processed == 0 {
		return fmt.Errorf("persist check failed: 0 of %d pairs stored", len(raws))
	}

	points, err := s.PriceHistory(ctx, raws[0].PairAddress(), nil, nil)
	if err != nil {
		return fmt.Errorf("read-back check failed: %w", err)
	}
	encoded, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("serialize check failed: %w", err)
	}

	fmt.Printf("OK: %d pair(s), %d snapshot(s), %d bytes\n", len(raws), stats.Processed, len(encoded))
	return nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collector heartbeat and table sizes",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	s, err := rt.openStore()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	status, err := s.GetAppStatus(ctx)
	if err != nil {
		return err
	}
	if status == nil {
		fmt.Println("no status recorded yet")
	} else {
		if status.CycleStartedMS != nil {
			fmt.Printf("cycle started:  %s\n", fmtMS(*status.CycleStartedMS))
		}
		if status.CycleDoneMS != nil {
			fmt.Printf("cycle finished: %s\n", fmtMS(*status.CycleDoneMS))
		}
		if status.LastError != nil {
			at := ""
			if status.LastErrorAtMS != nil {
				at = " at " + fmtMS(*status.LastErrorAtMS)
			}
			fmt.Printf("last error%s: %s\n", at, *status.LastError)
		}
		if status.CountersJSON != nil {
			var counters map[string]any
			if json.Unmarshal([]byte(*status.CountersJSON), &counters) == nil {
				fmt.Printf("counters: %v\n", counters)
			}
		}
	}

	for _, table := range []string{"pairs", "snapshots", "dump_watchlist", "signal_events", "strategy_decisions"} {
		n, err := s.CountRows(ctx, table)
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %d\n", table, n)
	}
	return nil
}

func fmtMS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
