package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solscreen/solscreen/internal/model"
	"github.com/solscreen/solscreen/internal/store"
)

type fixture struct {
	store *store.Store
	eng   *Engine
	now   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	now := time.Now().UnixMilli()
	eng := NewEngine(s, zerolog.Nop())
	eng.nowMS = func() int64 { return now }
	return &fixture{store: s, eng: eng, now: now}
}

type pairOpts struct {
	createdAgoMS int64
	liq          float64
	volH24       float64
	buysH24      int64
	sellsH24     int64
	prices       []float64 // one snapshot per price, 60s apart, newest last
}

func (f *fixture) seedPair(t *testing.T, addr string, o pairOpts) {
	t.Helper()
	ctx := context.Background()
	created := f.now - o.createdAgoMS
	start := f.now - int64(len(o.prices))*60_000
	for i, price := range o.prices {
		snap := &model.Snapshot{
			SnapshotTS:      start + int64(i)*60_000,
			ChainID:         "solana",
			DexID:           "raydium",
			PairAddress:     addr,
			URL:             "https://dexscreener.com/solana/" + addr,
			BaseToken:       model.Token{Address: addr + "-base"},
			QuoteToken:      model.Token{Address: "SOL"},
			PriceUSD:        model.Float64Ptr(price),
			LiquidityUSD:    model.Float64Ptr(o.liq),
			VolumeH24:       model.Float64Ptr(o.volH24),
			TxnsM5Buys:      model.Int64Ptr(3),
			TxnsM5Sells:     model.Int64Ptr(2),
			TxnsH24Buys:     model.Int64Ptr(o.buysH24),
			TxnsH24Sells:    model.Int64Ptr(o.sellsH24),
			PairCreatedAtMS: model.Int64Ptr(created),
		}
		require.NoError(t, f.store.PersistSnapshot(ctx, snap))
	}
}

func (f *fixture) decisions(t *testing.T, addr string) []map[string]any {
	t.Helper()
	_, rows, err := f.store.ExportRows(context.Background(), "strategy_decisions", 0)
	require.NoError(t, err)
	var out []map[string]any
	for _, row := range rows {
		if row["pair_address"] == addr {
			out = append(out, row)
		}
	}
	return out
}

func reasonsOf(t *testing.T, row map[string]any) map[string]any {
	t.Helper()
	raw, _ := row["reasons_json"].(string)
	require.NotEmpty(t, raw)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestBootstrapPath(t *testing.T) {
	f := newFixture(t)
	f.seedPair(t, "Boot", pairOpts{
		createdAgoMS: 3_600_000,
		liq:          15_000,
		volH24:       600,
		buysH24:      3,
		sellsH24:     2,
		prices:       []float64{1.5},
	})

	res, err := f.eng.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Bootstrap, 1)
	assert.Equal(t, "Boot", res.Bootstrap[0].PairAddress)
	assert.Empty(t, res.Signals)

	decs := f.decisions(t, "Boot")
	require.Len(t, decs, 1)
	assert.Equal(t, DecisionBootstrap, decs[0]["decision"])
	assert.Equal(t, "insufficient_price_history", reasonsOf(t, decs[0])["reason"])
}

func TestBootstrapFailsHardFiltersIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.seedPair(t, "Thin", pairOpts{
		createdAgoMS: 3_600_000,
		liq:          5_000, // below bootstrap liquidity floor
		volH24:       600,
		buysH24:      3,
		sellsH24:     2,
		prices:       []float64{1.5},
	})

	res, err := f.eng.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Bootstrap)
	assert.Empty(t, f.decisions(t, "Thin"))
}

func TestAgeGateSkipsOldPairs(t *testing.T) {
	f := newFixture(t)
	f.seedPair(t, "Old", pairOpts{
		createdAgoMS: 25 * 3600 * 1000,
		liq:          50_000,
		volH24:       5_000,
		buysH24:      50,
		sellsH24:     40,
		prices:       []float64{1.0, 0.9, 0.5},
	})

	res, err := f.eng.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	assert.Empty(t, f.decisions(t, "Old"))
}

func TestSignalEmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// ATH 1.0 backed by clustered snapshots; current 0.45 = 55% drawdown.
	f.seedPair(t, "Sig", pairOpts{
		createdAgoMS: 3_600_000,
		liq:          20_000,
		volH24:       5_000,
		buysH24:      50,
		sellsH24:     40,
		prices:       []float64{1.0, 0.98, 0.45},
	})

	res, err := f.eng.Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Signals, 1)
	sig := res.Signals[0]
	assert.Equal(t, "Sig", sig.PairAddress)
	assert.Equal(t, 1.0, sig.ATHPrice)
	assert.InDelta(t, 55.0, sig.DropFromATH, 1e-9)
	assert.Equal(t, sig.DropFromATH, sig.Score)

	decs := f.decisions(t, "Sig")
	require.Len(t, decs, 1)
	assert.Equal(t, DecisionSignal, decs[0]["decision"])
	reasons := reasonsOf(t, decs[0])
	assert.Equal(t, true, reasons["ath_valid"])
	assert.Equal(t, "raw", reasons["ath_source"])

	// Signal enrollment: event + pending trigger + one eval per horizon.
	nEvents, err := f.store.CountRows(ctx, "signal_events")
	require.NoError(t, err)
	assert.Equal(t, int64(1), nEvents)
	evals, err := f.store.EvaluationsForSignal(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, evals, 3)
	trig, err := f.store.PendingTriggerEvals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, trig, 1)

	// Cooldown keeps an immediate re-run silent.
	res, err = f.eng.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	nEvents, err = f.store.CountRows(ctx, "signal_events")
	require.NoError(t, err)
	assert.Equal(t, int64(1), nEvents)
}

func TestWatchlistDowngradeOnMarketQuality(t *testing.T) {
	f := newFixture(t)
	// 46% drawdown classifies L3, but txns=8 misses the L3 minimum of 10
	// and meets the L2 minima.
	f.seedPair(t, "Down", pairOpts{
		createdAgoMS: 3_600_000,
		liq:          16_000,
		volH24:       5_000,
		buysH24:      5,
		sellsH24:     3,
		prices:       []float64{1.0, 0.97, 0.54},
	})

	res, err := f.eng.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.WL3)
	require.Len(t, res.WL2, 1)

	decs := f.decisions(t, "Down")
	require.Len(t, decs, 1)
	assert.Equal(t, DecisionWatchlistL2, decs[0]["decision"])
}

func TestRejectShallowDrawdown(t *testing.T) {
	f := newFixture(t)
	f.seedPair(t, "Shallow", pairOpts{
		createdAgoMS: 3_600_000,
		liq:          50_000,
		volH24:       5_000,
		buysH24:      50,
		sellsH24:     40,
		prices:       []float64{1.0, 0.99, 0.9},
	})

	res, err := f.eng.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.WL1)

	decs := f.decisions(t, "Shallow")
	require.Len(t, decs, 1)
	assert.Equal(t, DecisionReject, decs[0]["decision"])
	assert.Equal(t, "drop_below_watchlist", reasonsOf(t, decs[0])["reason"])
}

func TestRejectWhenATHIsCurrentSnapshot(t *testing.T) {
	f := newFixture(t)
	// Monotonically rising price: the ATH is the newest snapshot, so no
	// drawdown exists to measure.
	f.seedPair(t, "Riser", pairOpts{
		createdAgoMS: 3_600_000,
		liq:          50_000,
		volH24:       5_000,
		buysH24:      50,
		sellsH24:     40,
		prices:       []float64{0.5, 0.8, 1.0},
	})

	res, err := f.eng.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Signals)

	decs := f.decisions(t, "Riser")
	require.Len(t, decs, 1)
	assert.Equal(t, DecisionReject, decs[0]["decision"])
	assert.Equal(t, "valid_ath_not_found", reasonsOf(t, decs[0])["reason"])
}

func TestFallbackATHWhenRawSpikeIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Isolated 2.0 print far from the later cluster; the validated ATH
	// falls back to the clustered 1.0.
	created := f.now - 3_600_000
	persist := func(ts int64, price float64) {
		snap := &model.Snapshot{
			SnapshotTS:      ts,
			ChainID:         "solana",
			DexID:           "raydium",
			PairAddress:     "Spike",
			BaseToken:       model.Token{Address: "spike-base"},
			QuoteToken:      model.Token{Address: "SOL"},
			PriceUSD:        model.Float64Ptr(price),
			LiquidityUSD:    model.Float64Ptr(20_000),
			VolumeH24:       model.Float64Ptr(5_000),
			TxnsM5Buys:      model.Int64Ptr(3),
			TxnsM5Sells:     model.Int64Ptr(2),
			TxnsH24Buys:     model.Int64Ptr(50),
			TxnsH24Sells:    model.Int64Ptr(40),
			PairCreatedAtMS: model.Int64Ptr(created),
		}
		require.NoError(t, f.store.PersistSnapshot(ctx, snap))
	}
	base := f.now - 1_000_000
	persist(base, 2.0) // isolated spike
	persist(base+400_000, 1.0)
	persist(base+460_000, 0.9)
	persist(base+520_000, 0.5)

	res, err := f.eng.Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Signals, 1)
	assert.Equal(t, 1.0, res.Signals[0].ATHPrice)
	assert.InDelta(t, 50.0, res.Signals[0].DropFromATH, 1e-9)

	decs := f.decisions(t, "Spike")
	require.Len(t, decs, 1)
	assert.Equal(t, "fallback", reasonsOf(t, decs[0])["ath_source"])
}
