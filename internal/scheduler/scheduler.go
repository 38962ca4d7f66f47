// Package scheduler runs the continuous discovery loop: fetch the latest
// token profiles, pull their pairs, persist snapshots, prune, heartbeat,
// sleep, repeat.
package scheduler

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/metrics"
	"github.com/solscreen/solscreen/internal/model"
	"github.com/solscreen/solscreen/internal/pipeline"
	"github.com/solscreen/solscreen/internal/store"
)

// ProfileFetcher is the upstream surface the loop needs beyond the
// collector's own fetcher.
type ProfileFetcher interface {
	LatestSolanaTokenProfiles(ctx context.Context) ([]string, error)
	PairsByTokenAddresses(ctx context.Context, tokenAddresses []string) ([]model.RawPair, error)
}

// Options tunes the loop. Zero values fall back to config defaults.
type Options struct {
	IntervalSec      int
	LimitPerCycle    int     // 0 = no truncation
	AutoPrune        bool    // prune pairs and dump watchlist after each cycle
	PruneMaxAgeHours float64 // pair retention for auto-prune
}

// Scheduler drives collect-new cycles until stopped.
type Scheduler struct {
	client    ProfileFetcher
	collector *pipeline.Collector
	store     *store.Store
	met       *metrics.Set
	log       zerolog.Logger
	opts      Options

	stopAfterCycle atomic.Bool
	totals         pipeline.CycleStats
	cycles         int64

	nowMS func() int64
}

// New builds a scheduler. met may be nil when metrics are disabled.
func New(client ProfileFetcher, col *pipeline.Collector, s *store.Store, met *metrics.Set, opts Options, log zerolog.Logger) *Scheduler {
	if opts.IntervalSec <= 0 {
		opts.IntervalSec = int(config.CollectNewIntervalSec)
	}
	if opts.PruneMaxAgeHours <= 0 {
		opts.PruneMaxAgeHours = config.DefaultPruneMaxAgeHours
	}
	return &Scheduler{
		client:    client,
		collector: col,
		store:     s,
		met:       met,
		log:       log.With().Str("component", "scheduler").Logger(),
		opts:      opts,
		nowMS:     func() int64 { return time.Now().UnixMilli() },
	}
}

// StopAfterCycle asks the loop to exit once the in-flight cycle finishes.
func (s *Scheduler) StopAfterCycle() {
	s.stopAfterCycle.Store(true)
	s.log.Info().Msg("will stop after current cycle")
}

// Run loops until ctx is canceled (immediate stop) or StopAfterCycle was
// requested (graceful stop at a cycle boundary).
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.opts.IntervalSec) * time.Second
	s.log.Info().
		Dur("interval", interval).
		Int("limit_per_cycle", s.opts.LimitPerCycle).
		Bool("auto_prune", s.opts.AutoPrune).
		Msg("collect-new loop starting")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats, err := s.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error().Err(err).Msg("cycle failed")
		} else {
			s.log.Info().
				Int("processed", stats.Processed).
				Int("errors", stats.Errors).
				Int("skipped", stats.Skipped).
				Int64("cycles_total", s.cycles).
				Msg("cycle complete")
		}

		if s.stopAfterCycle.Load() {
			s.log.Info().Msg("collect-new loop stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunCycle executes one discovery cycle and stamps the heartbeat row.
func (s *Scheduler) RunCycle(ctx context.Context) (pipeline.CycleStats, error) {
	cycleID := uuid.NewString()
	start := s.nowMS()
	startWall := time.Now()
	log := s.log.With().Str("cycle_id", cycleID).Logger()

	if err := s.store.UpdateAppStatus(ctx, store.StatusUpdate{CycleStartedMS: &start}); err != nil {
		return pipeline.CycleStats{}, err
	}

	stats, err := s.runCycleInner(ctx, log)
	doneMS := s.nowMS()

	if err != nil {
		msg := err.Error()
		if s.met != nil {
			s.met.CycleErrors.Inc()
		}
		_ = s.store.UpdateAppStatus(ctx, store.StatusUpdate{LastError: &msg, LastErrorAtMS: &doneMS})
		return stats, err
	}

	s.cycles++
	s.totals.Processed += stats.Processed
	s.totals.Errors += stats.Errors
	s.totals.Skipped += stats.Skipped
	if s.met != nil {
		s.met.CyclesTotal.Inc()
		s.met.SnapshotsTotal.Add(float64(stats.Processed))
		s.met.SnapshotErrors.Add(float64(stats.Errors))
		s.met.CycleDuration.Observe(time.Since(startWall).Seconds())
	}

	counters, _ := json.Marshal(map[string]any{
		"cycle_id":        cycleID,
		"processed":       stats.Processed,
		"errors":          stats.Errors,
		"skipped":         stats.Skipped,
		"total_cycles":    s.cycles,
		"total_processed": s.totals.Processed,
		"total_errors":    s.totals.Errors,
		"total_skipped":   s.totals.Skipped,
	})
	countersJSON := string(counters)
	err = s.store.UpdateAppStatus(ctx, store.StatusUpdate{CycleDoneMS: &doneMS, CountersJSON: &countersJSON})
	return stats, err
}

func (s *Scheduler) runCycleInner(ctx context.Context, log zerolog.Logger) (pipeline.CycleStats, error) {
	tokens, err := s.client.LatestSolanaTokenProfiles(ctx)
	if err != nil {
		return pipeline.CycleStats{}, err
	}
	if s.opts.LimitPerCycle > 0 && len(tokens) > s.opts.LimitPerCycle {
		tokens = tokens[:s.opts.LimitPerCycle]
	}
	log.Debug().Int("tokens", len(tokens)).Msg("token profiles fetched")

	var raws []model.RawPair
	if len(tokens) > 0 {
		raws, err = s.client.PairsByTokenAddresses(ctx, tokens)
		if err != nil {
			return pipeline.CycleStats{}, err
		}
	}

	known, err := s.store.KnownPairAddresses(ctx)
	if err != nil {
		return pipeline.CycleStats{}, err
	}

	stats := s.collector.CollectFromRawPairs(ctx, raws, known)

	if s.opts.AutoPrune {
		if _, err := s.store.PruneByPairAge(ctx, s.opts.PruneMaxAgeHours, false, false); err != nil {
			log.Warn().Err(err).Msg("pair auto-prune failed")
		}
		if n, err := s.store.PruneDumpWatchlist(ctx, config.DumpWatchlistTTLHours); err != nil {
			log.Warn().Err(err).Msg("dump watchlist auto-prune failed")
		} else if n > 0 {
			log.Debug().Int64("expired", n).Msg("dump watchlist pruned")
		}
	}
	return stats, nil
}
