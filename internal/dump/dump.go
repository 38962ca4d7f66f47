// Package dump maintains the dump/reversal watchlist: pairs that crashed
// hard from their peak, tracked through DUMPING -> BOTTOMING -> SIGNAL as
// the price carves out a low and bounces.
package dump

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/store"
)

// Input is everything one transition reads: the newest snapshot tail, the
// one before it (nil when history has a single row), the lifetime peak,
// and the pair's current liquidity.
type Input struct {
	PairAddress string
	Latest      store.SnapshotTail
	Prev        *store.SnapshotTail
	Peak        store.PricePoint
	Liquidity   float64
	NowMS       int64
}

func f64(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func i64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Transition computes the next watchlist row for a pair. prev is the
// stored entry or nil when the pair is not yet tracked. The second return
// is false when nothing should be written: price unusable, admission
// rejected, or the entry already reached its terminal SIGNAL state.
//
// The function is pure; the caller persists the result.
func Transition(prev *store.DumpEntry, in Input) (*store.DumpEntry, bool) {
	lastPrice := f64(in.Latest.PriceUSD)
	if lastPrice <= 0 {
		return nil, false
	}
	if in.Peak.Price <= 0 {
		return nil, false
	}

	dropPct := (in.Peak.Price - lastPrice) / in.Peak.Price * 100.0

	var e store.DumpEntry
	if prev != nil {
		e = *prev
		if in.Peak.Price > e.PeakPrice {
			e.PeakPrice = in.Peak.Price
			e.PeakTS = in.Peak.TS
		}
		// Low moves before the state checks below see it.
		if lastPrice < e.LowPrice {
			e.LowPrice = lastPrice
			e.LowTS = in.Latest.TS
		}
		e.UpdatedAtMS = in.NowMS
		e.LastPrice = lastPrice
		e.LastTS = in.Latest.TS
		e.DropPct = dropPct
		e.VolumeM5 = in.Latest.VolumeM5
		e.BuysM5 = in.Latest.BuysM5
		e.SellsM5 = in.Latest.SellsM5
	} else {
		// Admission. Once admitted, an entry never exits for drop_pct
		// recovering; only TTL and orphan pruning remove rows.
		if dropPct < config.DumpDropThresholdPct ||
			in.Liquidity < config.DumpMinLiquidityUSD ||
			f64(in.Latest.VolumeM5) < config.DumpMinVolumeM5 ||
			i64(in.Latest.SellsM5) < config.DumpMinSellsM5 {
			return nil, false
		}
		e = store.DumpEntry{
			PairAddress: in.PairAddress,
			AddedAtMS:   in.NowMS,
			UpdatedAtMS: in.NowMS,
			State:       store.StateDumping,
			PeakPrice:   in.Peak.Price,
			PeakTS:      in.Peak.TS,
			LowPrice:    lastPrice,
			LowTS:       in.Latest.TS,
			LastPrice:   lastPrice,
			LastTS:      in.Latest.TS,
			DropPct:     dropPct,
			VolumeM5:    in.Latest.VolumeM5,
			BuysM5:      in.Latest.BuysM5,
			SellsM5:     in.Latest.SellsM5,
		}
	}

	buys := i64(in.Latest.BuysM5)
	sells := i64(in.Latest.SellsM5)

	// SIGNAL is terminal: tracking fields above keep refreshing (so TTL
	// pruning leaves active pairs alone) but no further transitions run
	// and signal_ts/signal_price stay as first stamped.
	if e.State == store.StateSignal && e.SignalTS != nil {
		return &e, true
	}

	if e.State == store.StateDumping && in.Prev != nil {
		threshold := e.LowPrice * config.BottomingPriceFactor
		p1 := f64(in.Latest.PriceUSD)
		p2 := f64(in.Prev.PriceUSD)
		if p1 >= threshold && p2 >= threshold && float64(buys) >= float64(sells)*config.BottomingBuysFactor {
			e.State = store.StateBottoming
		}
	}

	// The bounce check runs from DUMPING as well as BOTTOMING: a violent
	// one-tick reversal may never show a BOTTOMING row.
	if e.SignalTS == nil {
		prevVol := 0.0
		if in.Prev != nil {
			prevVol = f64(in.Prev.VolumeM5)
		}
		volMin := prevVol
		if volMin < config.SignalMinVolumeM5 {
			volMin = config.SignalMinVolumeM5
		}
		if lastPrice >= e.LowPrice*config.SignalBounceFactor &&
			buys > sells &&
			f64(in.Latest.VolumeM5) >= volMin {
			e.State = store.StateSignal
			e.SignalTS = &in.Latest.TS
			price := lastPrice
			e.SignalPrice = &price
		}
	}

	return &e, true
}

// Updater reads the transition inputs from the store and persists results.
type Updater struct {
	store *store.Store
	log   zerolog.Logger
	nowMS func() int64
}

// NewUpdater builds an Updater around the store.
func NewUpdater(s *store.Store, log zerolog.Logger) *Updater {
	return &Updater{
		store: s,
		log:   log,
		nowMS: func() int64 { return time.Now().UnixMilli() },
	}
}

// OnSnapshot runs one state-machine step for a pair, after its newest
// snapshot has been persisted. Callers serialize invocations per pair.
func (u *Updater) OnSnapshot(ctx context.Context, pairAddress string) error {
	tails, err := u.store.LatestSnapshots(ctx, pairAddress, 2)
	if err != nil {
		return err
	}
	if len(tails) == 0 {
		return nil
	}

	peak, err := u.store.PeakPoint(ctx, pairAddress)
	if err != nil {
		return err
	}
	if peak == nil {
		return nil
	}

	liq, err := u.store.PairLiquidity(ctx, pairAddress)
	if err != nil {
		return err
	}

	entry, err := u.store.GetDumpEntry(ctx, pairAddress)
	if err != nil {
		return err
	}

	in := Input{
		PairAddress: pairAddress,
		Latest:      tails[0],
		Peak:        *peak,
		Liquidity:   liq,
		NowMS:       u.nowMS(),
	}
	if len(tails) > 1 {
		in.Prev = &tails[1]
	}

	next, changed := Transition(entry, in)
	if !changed {
		return nil
	}
	if entry == nil {
		u.log.Info().
			Str("pair", pairAddress).
			Float64("drop_pct", next.DropPct).
			Msg("pair admitted to dump watchlist")
	} else if entry.State != next.State {
		u.log.Info().
			Str("pair", pairAddress).
			Str("from", entry.State).
			Str("to", next.State).
			Msg("dump watchlist state change")
	}
	return u.store.PutDumpEntry(ctx, next)
}
