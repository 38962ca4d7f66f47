package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscreen/solscreen/internal/dump"
	"github.com/solscreen/solscreen/internal/metrics"
	"github.com/solscreen/solscreen/internal/model"
	"github.com/solscreen/solscreen/internal/pipeline"
	"github.com/solscreen/solscreen/internal/store"
)

type fakeUpstream struct {
	tokens     []string
	tokensErr  error
	pairs      []model.RawPair
	pairsErr   error
	seenTokens []string
}

func (f *fakeUpstream) LatestSolanaTokenProfiles(context.Context) ([]string, error) {
	return f.tokens, f.tokensErr
}

func (f *fakeUpstream) PairsByTokenAddresses(_ context.Context, addrs []string) ([]model.RawPair, error) {
	f.seenTokens = addrs
	return f.pairs, f.pairsErr
}

func (f *fakeUpstream) PairsByPairAddresses(context.Context, []string) ([]model.RawPair, error) {
	return nil, nil
}

func rawPair(addr string, price float64) model.RawPair {
	return model.RawPair{
		"pairAddress": addr,
		"chainId":     "solana",
		"dexId":       "raydium",
		"priceUsd":    price,
		"baseToken":   map[string]any{"address": addr + "-base", "symbol": "TKN"},
		"quoteToken":  map[string]any{"address": "SOL", "symbol": "SOL"},
	}
}

func newScheduler(t *testing.T, up *fakeUpstream, opts Options) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	col := pipeline.NewCollector(up, s, dump.NewUpdater(s, zerolog.Nop()), zerolog.Nop())
	return New(up, col, s, metrics.NewSet(), opts, zerolog.Nop()), s
}

func TestRunCyclePersistsAndStampsStatus(t *testing.T) {
	up := &fakeUpstream{
		tokens: []string{"tokA", "tokB"},
		pairs:  []model.RawPair{rawPair("PAIR1", 1.0), rawPair("PAIR2", 2.0)},
	}
	sched, s := newScheduler(t, up, Options{IntervalSec: 60})
	ctx := context.Background()

	stats, err := sched.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Errors)

	known, err := s.KnownPairAddresses(ctx)
	require.NoError(t, err)
	assert.Len(t, known, 2)

	status, err := s.GetAppStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.NotNil(t, status.CycleStartedMS)
	require.NotNil(t, status.CycleDoneMS)
	assert.Nil(t, status.LastError)

	require.NotNil(t, status.CountersJSON)
	var counters map[string]any
	require.NoError(t, json.Unmarshal([]byte(*status.CountersJSON), &counters))
	assert.Equal(t, float64(2), counters["processed"])
	assert.Equal(t, float64(1), counters["total_cycles"])
	assert.NotEmpty(t, counters["cycle_id"])
}

func TestRunCycleLimitPerCycle(t *testing.T) {
	up := &fakeUpstream{
		tokens: []string{"t1", "t2", "t3", "t4"},
		pairs:  []model.RawPair{rawPair("PAIR1", 1.0)},
	}
	sched, _ := newScheduler(t, up, Options{IntervalSec: 60, LimitPerCycle: 2})

	_, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, up.seenTokens)
}

func TestRunCycleNoTokensSkipsPairFetch(t *testing.T) {
	up := &fakeUpstream{tokens: nil, pairsErr: errors.New("should not be called")}
	sched, _ := newScheduler(t, up, Options{IntervalSec: 60})

	stats, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Nil(t, up.seenTokens)
}

func TestRunCycleRecordsLastError(t *testing.T) {
	up := &fakeUpstream{tokensErr: errors.New("upstream down")}
	sched, s := newScheduler(t, up, Options{IntervalSec: 60})
	ctx := context.Background()

	_, err := sched.RunCycle(ctx)
	require.Error(t, err)

	status, err := s.GetAppStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "upstream down")
	require.NotNil(t, status.LastErrorAtMS)
}

func TestRunStopsAfterCycleWhenRequested(t *testing.T) {
	up := &fakeUpstream{tokens: nil}
	sched, _ := newScheduler(t, up, Options{IntervalSec: 3600})
	sched.StopAfterCycle()

	err := sched.Run(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), sched.cycles)
}

func TestRunHonorsHardCancel(t *testing.T) {
	up := &fakeUpstream{tokens: nil}
	sched, _ := newScheduler(t, up, Options{IntervalSec: 3600})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sched.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCycleAutoPrune(t *testing.T) {
	up := &fakeUpstream{
		tokens: []string{"tokA"},
		pairs:  []model.RawPair{rawPair("PAIR1", 1.0)},
	}
	sched, _ := newScheduler(t, up, Options{IntervalSec: 60, AutoPrune: true, PruneMaxAgeHours: 24})

	// Fresh pairs survive the prune.
	stats, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
}
