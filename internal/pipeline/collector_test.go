package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscreen/solscreen/internal/dump"
	"github.com/solscreen/solscreen/internal/model"
	"github.com/solscreen/solscreen/internal/store"
)

type fakeFetcher struct {
	byPair  []model.RawPair
	byToken []model.RawPair
}

func (f *fakeFetcher) PairsByPairAddresses(_ context.Context, _ []string) ([]model.RawPair, error) {
	return f.byPair, nil
}

func (f *fakeFetcher) PairsByTokenAddresses(_ context.Context, _ []string) ([]model.RawPair, error) {
	return f.byToken, nil
}

func rawPair(addr string, price string) model.RawPair {
	return model.RawPair{
		"chainId":     "solana",
		"dexId":       "raydium",
		"pairAddress": addr,
		"priceUsd":    price,
		"baseToken":   map[string]any{"address": addr + "-base", "symbol": "B"},
		"quoteToken":  map[string]any{"address": "SOL", "symbol": "SOL"},
		"liquidity":   map[string]any{"usd": 20000.0},
	}
}

func newCollector(t *testing.T, f Fetcher) (*Collector, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	log := zerolog.Nop()
	return NewCollector(f, s, dump.NewUpdater(s, log), log), s
}

func TestCollectForPairsPersistsSnapshots(t *testing.T) {
	f := &fakeFetcher{byPair: []model.RawPair{rawPair("P1", "0.5"), rawPair("P2", "1.5")}}
	c, s := newCollector(t, f)

	stats, err := c.CollectForPairs(context.Background(), []string{"P1", "P2"})
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Processed: 2}, stats)

	known, err := s.KnownPairAddresses(context.Background())
	require.NoError(t, err)
	assert.Len(t, known, 2)
}

func TestCollectForPairsEmptyInput(t *testing.T) {
	c, _ := newCollector(t, &fakeFetcher{})
	stats, err := c.CollectForPairs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats)
}

func TestCollectFromRawPairsFiltersKnownAndEmpty(t *testing.T) {
	c, s := newCollector(t, &fakeFetcher{})
	ctx := context.Background()

	raws := []model.RawPair{
		rawPair("New1", "0.1"),
		rawPair("Known1", "0.2"),
		rawPair("", "0.3"),
		rawPair("New2", "0.4"),
	}
	stats := c.CollectFromRawPairs(ctx, raws, map[string]struct{}{"Known1": {}})
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 2, stats.Skipped)

	known, err := s.KnownPairAddresses(ctx)
	require.NoError(t, err)
	assert.Contains(t, known, "New1")
	assert.Contains(t, known, "New2")
	assert.NotContains(t, known, "Known1")
}

func TestPersistPairsSharesOneTimestamp(t *testing.T) {
	c, s := newCollector(t, &fakeFetcher{})
	c.nowMS = func() int64 { return 1_700_000_000_000 }
	ctx := context.Background()

	stats := c.persistPairs(ctx, []model.RawPair{rawPair("A", "1"), rawPair("B", "2")})
	assert.Equal(t, 2, stats.Processed)

	for _, pair := range []string{"A", "B"} {
		tails, err := s.LatestSnapshots(ctx, pair, 1)
		require.NoError(t, err)
		require.Len(t, tails, 1)
		assert.Equal(t, int64(1_700_000_000_000), tails[0].TS)
	}
}

func TestPersistPairsCountsUnparsableAsError(t *testing.T) {
	c, _ := newCollector(t, &fakeFetcher{})
	stats := c.persistPairs(context.Background(), []model.RawPair{
		{"priceUsd": "1.0"}, // no address at all
		rawPair("Good", "1"),
	})
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
}

func TestParseAddressesInput(t *testing.T) {
	assert.Nil(t, ParseAddressesInput(""))
	assert.Nil(t, ParseAddressesInput("   "))
	assert.Equal(t, []string{"a", "b"}, ParseAddressesInput(" a , b ,, "))

	dir := t.TempDir()
	path := filepath.Join(dir, "addrs.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeffAddr1,extra\nAddr2\n\n ,skipme\n"), 0o644))
	assert.Equal(t, []string{"Addr1", "Addr2"}, ParseAddressesInput(path))
}
