// Package analysis evaluates emitted signals after the fact: fixed-horizon
// return snapshots and TP1/SL trigger outcomes. Both passes drain only
// PENDING rows, so re-running them is always safe.
package analysis

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/store"
)

// Timestamps above this are milliseconds, below are seconds.
const msThreshold = int64(1_000_000_000_000)

// windowMS returns the inclusive [since, until] evaluation window in
// milliseconds for a signal timestamp of either unit.
func windowMS(signalTS, horizonSec int64) (sinceMS, untilMS int64) {
	if signalTS > msThreshold {
		return signalTS, signalTS + horizonSec*1000
	}
	return signalTS * 1000, (signalTS + horizonSec) * 1000
}

// RunHorizons processes every due PENDING horizon evaluation. Returns
// (done, noData) counts.
func RunHorizons(ctx context.Context, s *store.Store, nowTS int64, log zerolog.Logger) (int, int, error) {
	pending, err := s.PendingEvaluations(ctx, nowTS)
	if err != nil {
		return 0, 0, err
	}

	done, noData := 0, 0
	for _, ev := range pending {
		sinceMS, untilMS := windowMS(ev.SignalTS, ev.HorizonSec)
		points, err := s.PriceHistory(ctx, ev.PairAddress, &sinceMS, &untilMS)
		if err != nil {
			return done, noData, err
		}

		if len(points) == 0 || ev.EntryPrice <= 0 {
			if err := s.UpdateEvaluationNoData(ctx, ev.EvalID); err != nil {
				return done, noData, err
			}
			noData++
			continue
		}

		priceEnd := points[len(points)-1].Price
		maxPrice, minPrice := points[0].Price, points[0].Price
		for _, p := range points[1:] {
			if p.Price > maxPrice {
				maxPrice = p.Price
			}
			if p.Price < minPrice {
				minPrice = p.Price
			}
		}

		ret := func(p float64) float64 { return (p - ev.EntryPrice) / ev.EntryPrice * 100.0 }
		if err := s.UpdateEvaluationDone(ctx, ev.EvalID, nowTS,
			priceEnd, maxPrice, minPrice,
			ret(priceEnd), ret(maxPrice), ret(minPrice)); err != nil {
			return done, noData, err
		}
		done++
	}

	log.Info().Int("done", done).Int("no_data", noData).Msg("horizon analysis complete")
	return done, noData, nil
}

// RunTriggers processes up to limit PENDING trigger evaluations: first
// touch of TP1 (+40%) vs SL (-50%) over the first day after the signal,
// whole-window excursions, and break-even behavior after TP1.
func RunTriggers(ctx context.Context, s *store.Store, nowTS int64, limit int, log zerolog.Logger) (int, int, error) {
	pending, err := s.PendingTriggerEvals(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	done, noData := 0, 0
	for _, ev := range pending {
		if ev.EntryPrice <= 0 {
			if err := s.UpdateTriggerEvalNoData(ctx, ev.SignalID); err != nil {
				return done, noData, err
			}
			noData++
			continue
		}

		sinceMS, untilMS := windowMS(ev.SignalTS, config.TriggerEvalMaxAgeSec)
		points, err := s.PriceHistory(ctx, ev.PairAddress, &sinceMS, &untilMS)
		if err != nil {
			return done, noData, err
		}
		if len(points) < config.TriggerEvalMinSnapshot {
			if err := s.UpdateTriggerEvalNoData(ctx, ev.SignalID); err != nil {
				return done, noData, err
			}
			noData++
			continue
		}

		res := evaluateTriggers(ev.SignalID, ev.EntryPrice, points)
		res.EvaluatedAt = nowTS
		if err := s.UpdateTriggerEvalDone(ctx, res); err != nil {
			return done, noData, err
		}
		done++
	}

	log.Info().Int("done", done).Int("no_data", noData).Msg("trigger analysis complete")
	return done, noData, nil
}

// evaluateTriggers walks an ascending price series once and fills a
// TriggerResult. Pure; points must be non-empty.
func evaluateTriggers(signalID int64, entryPrice float64, points []store.PricePoint) store.TriggerResult {
	res := store.TriggerResult{SignalID: signalID}

	var tp1TS, slTS *int64
	var tp1Price, slPrice *float64
	maxPrice, minPrice := points[0].Price, points[0].Price
	mfe, mae := pctOf(points[0].Price, entryPrice), pctOf(points[0].Price, entryPrice)

	for _, p := range points {
		pct := pctOf(p.Price, entryPrice)
		if tp1TS == nil && pct >= config.TP1Pct {
			ts, price := p.TS, p.Price
			tp1TS, tp1Price = &ts, &price
		}
		if slTS == nil && pct <= config.SLPct {
			ts, price := p.TS, p.Price
			slTS, slPrice = &ts, &price
		}
		if p.Price > maxPrice {
			maxPrice = p.Price
		}
		if p.Price < minPrice {
			minPrice = p.Price
		}
		if pct > mfe {
			mfe = pct
		}
		if pct < mae {
			mae = pct
		}
	}

	res.TP1HitTS, res.TP1Price = tp1TS, tp1Price
	res.SLHitTS, res.SLPrice = slTS, slPrice
	res.MFEPct, res.MAEPct = &mfe, &mae
	res.MaxPrice, res.MinPrice = &maxPrice, &minPrice

	switch {
	case tp1TS != nil && (slTS == nil || *tp1TS < *slTS):
		res.Outcome = store.OutcomeTP1First
	case slTS != nil && (tp1TS == nil || *slTS < *tp1TS):
		res.Outcome = store.OutcomeSLFirst
	default:
		res.Outcome = store.OutcomeNeither
	}

	if res.Outcome == store.OutcomeTP1First {
		bu := int64(0)
		postMaxPct := pctOf(*tp1Price, entryPrice)
		postMaxPrice := *tp1Price
		for _, p := range points {
			if p.TS < *tp1TS {
				continue
			}
			if p.Price <= entryPrice {
				bu = 1
			}
			if pct := pctOf(p.Price, entryPrice); pct > postMaxPct {
				postMaxPct = pct
			}
			if p.Price > postMaxPrice {
				postMaxPrice = p.Price
			}
		}
		res.BUHitAfterTP1 = &bu
		res.PostTP1MaxPct = &postMaxPct
		res.PostTP1MaxPx = &postMaxPrice
	}
	return res
}

func pctOf(price, entry float64) float64 {
	return (price - entry) / entry * 100.0
}

// Summary is the analyze report: signal totals, trigger outcome rates,
// post-TP1 statistics, and per-horizon aggregates.
type Summary struct {
	TotalSignals   int64
	TriggerDone    int64
	TriggerNoData  int64
	TriggerPending int64
	TP1First       int64
	SLFirst        int64
	Neither        int64
	TP1HitRate     float64
	SLFirstRate    float64
	BUAfterTP1Rate float64

	PostTP1MaxPctAvg    *float64
	PostTP1MaxPctMedian *float64
	Top                 []store.TopSignal

	Horizons []store.HorizonSummary
}

// BuildSummary aggregates the current evaluation state of the store.
func BuildSummary(ctx context.Context, s *store.Store) (Summary, error) {
	var sum Summary

	trig, err := s.SummarizeTriggers(ctx)
	if err != nil {
		return sum, err
	}
	sum.TotalSignals = trig.Signals
	sum.TriggerDone = trig.Done
	sum.TriggerNoData = trig.NoData
	sum.TriggerPending = trig.Pending
	sum.TP1First = trig.TP1First
	sum.SLFirst = trig.SLFirst
	sum.Neither = trig.Neither
	if trig.Done > 0 {
		sum.TP1HitRate = float64(trig.TP1First) / float64(trig.Done)
		sum.SLFirstRate = float64(trig.SLFirst) / float64(trig.Done)
	}
	if trig.TP1First > 0 {
		sum.BUAfterTP1Rate = float64(trig.BUAfter) / float64(trig.TP1First)
	}

	pcts, err := s.PostTP1MaxPcts(ctx)
	if err != nil {
		return sum, err
	}
	if len(pcts) > 0 {
		total := 0.0
		for _, p := range pcts {
			total += p
		}
		avg := total / float64(len(pcts))
		sum.PostTP1MaxPctAvg = &avg

		sort.Float64s(pcts)
		mid := len(pcts) / 2
		var median float64
		if len(pcts)%2 == 0 {
			median = (pcts[mid] + pcts[mid-1]) / 2.0
		} else {
			median = pcts[mid]
		}
		sum.PostTP1MaxPctMedian = &median
	}

	if sum.Top, err = s.TopPostTP1(ctx, 10); err != nil {
		return sum, err
	}
	if sum.Horizons, err = s.HorizonSummaries(ctx); err != nil {
		return sum, err
	}
	return sum, nil
}
