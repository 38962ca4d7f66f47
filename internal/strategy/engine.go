// Package strategy is the ATH drawdown screener: it walks live pairs,
// finds a trustworthy all-time high from real price history, and
// classifies each pair into watchlist tiers or a SIGNAL by how far it
// has fallen. Price-change percentages from the upstream are never used.
package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/solscreen/solscreen/internal/config"
	"github.com/solscreen/solscreen/internal/store"
)

// Decision labels written to strategy_decisions.
const (
	DecisionReject      = "REJECT"
	DecisionWatchlistL1 = "WATCHLIST_L1"
	DecisionWatchlistL2 = "WATCHLIST_L2"
	DecisionWatchlistL3 = "WATCHLIST_L3"
	DecisionBootstrap   = "WATCHLIST_BOOTSTRAP"
	DecisionSignal      = "SIGNAL"
)

// Entry is one screened pair, carried in the Result lists.
type Entry struct {
	PairAddress  string
	URL          string
	CurrentPrice float64
	ATHPrice     float64
	DropFromATH  float64
	LiquidityUSD float64
	VolumeH24    float64
	TxnsH24      int64
	BuysH24      int64
	Score        float64
}

// Result holds the screener output, each list ordered by score descending.
type Result struct {
	Signals   []Entry
	WL3       []Entry
	WL2       []Entry
	WL1       []Entry
	Bootstrap []Entry
}

// Engine runs the screener against a store.
type Engine struct {
	store *store.Store
	log   zerolog.Logger
	nowMS func() int64
}

// NewEngine builds an Engine. The clock is injectable for tests.
func NewEngine(s *store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: s,
		log:   log,
		nowMS: func() int64 { return time.Now().UnixMilli() },
	}
}

// DropFromATH computes the drawdown percentage. A non-positive ATH yields
// zero; a negative current price is clamped to zero.
func DropFromATH(athPrice, currentPrice float64) float64 {
	if athPrice <= 0 {
		return 0
	}
	if currentPrice < 0 {
		currentPrice = 0
	}
	return (athPrice - currentPrice) / athPrice * 100.0
}

// validATH is an accepted all-time high with its provenance.
type validATH struct {
	Price   float64
	TS      int64
	Source  string // "raw" or "fallback"
	Metrics map[string]any
}

func activityMetrics(act store.ActivityWindow) map[string]any {
	m := map[string]any{"snapshots_count": act.SnapshotsCount}
	if act.TxnsSum != nil {
		m["txns_sum"] = *act.TxnsSum
	}
	if act.VolumeSum != nil {
		m["volume_sum"] = *act.VolumeSum
	}
	return m
}

// activityValid applies the anti-spike rule: at least two snapshots around
// the candidate, and at least one transaction when the schema reports
// transactions at all.
func activityValid(act store.ActivityWindow) bool {
	if act.SnapshotsCount < config.ATHMinSnapshotsInWindow {
		return false
	}
	if act.TxnsSum != nil && *act.TxnsSum < config.ATHMinTxnsInWindow {
		return false
	}
	if act.VolumeSum != nil && *act.VolumeSum < config.ATHMinVolumeInWindow {
		return false
	}
	return true
}

// findValidATH searches for an ATH that is backed by real trading
// activity rather than a single stray print. The second return is true
// when the raw candidate failed validation solely for lack of snapshot
// history, which routes the pair to the bootstrap branch.
func (e *Engine) findValidATH(ctx context.Context, pairAddress string, sinceMS *int64, currentPrice float64) (*validATH, bool, error) {
	raw, err := e.store.ATHPointSince(ctx, pairAddress, sinceMS)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	// The newest snapshot being the ATH means no drawdown to measure.
	if raw.ATHTS == raw.CurrentTS && raw.ATHPrice == raw.CurrentPrice {
		return nil, false, nil
	}

	rawAct, err := e.store.Activity(ctx, pairAddress, raw.ATHTS, config.ATHValidateWindowSec)
	if err != nil {
		return nil, false, err
	}
	if activityValid(rawAct) {
		return &validATH{Price: raw.ATHPrice, TS: raw.ATHTS, Source: "raw", Metrics: activityMetrics(rawAct)}, false, nil
	}

	candidates, err := e.store.ATHCandidates(ctx, pairAddress, sinceMS, config.ATHFallbackMaxAttempts)
	if err != nil {
		return nil, false, err
	}
	for i, cand := range candidates {
		if i == 0 {
			continue // the raw candidate, already rejected
		}
		if cand.Price <= currentPrice {
			continue
		}
		act, err := e.store.Activity(ctx, pairAddress, cand.TS, config.ATHValidateWindowSec)
		if err != nil {
			return nil, false, err
		}
		if activityValid(act) {
			return &validATH{Price: cand.Price, TS: cand.TS, Source: "fallback", Metrics: activityMetrics(act)}, false, nil
		}
	}

	insufficientOnly := rawAct.SnapshotsCount < config.ATHMinSnapshotsInWindow &&
		(rawAct.TxnsSum == nil || *rawAct.TxnsSum >= config.ATHMinTxnsInWindow) &&
		(rawAct.VolumeSum == nil || *rawAct.VolumeSum >= config.ATHMinVolumeInWindow)
	return nil, insufficientOnly, nil
}

func pf(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func pi(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Run screens every pair once and records a StrategyDecision for each
// terminal classification. Per-pair failures are logged and skipped; a
// single bad pair never aborts the pass.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	var res Result
	now := e.nowMS()
	maxAgeMS := int64(config.StrategyMaxAgeHours * 3600 * 1000)

	pairs, err := e.store.IteratePairs(ctx)
	if err != nil {
		return res, err
	}

	for _, pair := range pairs {
		if pair.PairAddress == "" {
			continue
		}
		if err := e.screenPair(ctx, pair, now, maxAgeMS, &res); err != nil {
			e.log.Warn().Err(err).Str("pair", pair.PairAddress).Msg("screening failed for pair")
		}
	}

	for _, list := range []*[]Entry{&res.Signals, &res.WL3, &res.WL2, &res.WL1, &res.Bootstrap} {
		entries := *list
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	}
	e.log.Info().
		Int("signals", len(res.Signals)).
		Int("wl3", len(res.WL3)).
		Int("wl2", len(res.WL2)).
		Int("wl1", len(res.WL1)).
		Int("bootstrap", len(res.Bootstrap)).
		Msg("strategy pass complete")
	return res, nil
}

func (e *Engine) screenPair(ctx context.Context, pair store.PairRow, now, maxAgeMS int64, res *Result) error {
	addr := pair.PairAddress

	created := pi(pair.PairCreatedAtMS)
	if created > 0 && now-created > maxAgeMS {
		return nil
	}

	currentPrice, err := e.store.LatestPrice(ctx, addr)
	if err != nil {
		return err
	}
	if currentPrice == nil || *currentPrice <= 0 {
		return nil
	}

	liq := pf(pair.LiquidityUSD)
	vol := pf(pair.VolumeH24)
	buys := pi(pair.TxnsH24Buys)
	sells := pi(pair.TxnsH24Sells)
	txns := buys + sells
	url := ""
	if pair.URL != nil {
		url = *pair.URL
	}

	entry := Entry{
		PairAddress:  addr,
		URL:          url,
		CurrentPrice: *currentPrice,
		LiquidityUSD: liq,
		VolumeH24:    vol,
		TxnsH24:      txns,
		BuysH24:      buys,
	}

	count, err := e.store.SnapshotCount(ctx, addr)
	if err != nil {
		return err
	}
	if count < config.BootstrapMinSnapshots {
		return e.bootstrap(ctx, entry, res)
	}

	var since *int64
	if created > 0 {
		since = &created
	}
	ath, insufficient, err := e.findValidATH(ctx, addr, since, *currentPrice)
	if err != nil {
		return err
	}
	if ath == nil {
		if insufficient {
			return e.bootstrap(ctx, entry, res)
		}
		return e.store.InsertStrategyDecision(ctx, store.Decision{
			PairAddress:  addr,
			Decision:     DecisionReject,
			CurrentPrice: currentPrice,
			Reasons: map[string]any{
				"reason":    "valid_ath_not_found",
				"ath_valid": false,
			},
		})
	}

	drop := DropFromATH(ath.Price, *currentPrice)
	entry.ATHPrice = ath.Price
	entry.DropFromATH = drop
	entry.Score = drop

	if liq < config.StrategyMinLiquidityUSD || vol < config.StrategyMinVolumeH24 || txns < config.StrategyMinTxnsH24 {
		return nil
	}

	reasons := map[string]any{
		"drop_from_ath":          drop,
		"ath_valid":              true,
		"ath_source":             ath.Source,
		"ath_validation_metrics": ath.Metrics,
		"liq":                    liq,
		"vol":                    vol,
		"txns":                   txns,
		"buys":                   buys,
	}
	record := func(decision string) error {
		return e.store.InsertStrategyDecision(ctx, store.Decision{
			PairAddress:  addr,
			Decision:     decision,
			CurrentPrice: currentPrice,
			ATHPrice:     &ath.Price,
			DropFromATH:  &drop,
			Reasons:      reasons,
		})
	}

	switch {
	case drop < config.WL1MinDrop:
		reasons["reason"] = "drop_below_watchlist"
		return record(DecisionReject)

	case drop > config.SignalMaxDrop:
		reasons["reason"] = "drop_above_signal_max"
		return record(DecisionReject)

	case drop >= config.SignalMinDrop:
		// SIGNAL candidate: quality gate, then cooldown.
		if txns < config.SignalMinTxnsH24 || buys < config.SignalMinBuysH24 || liq < config.SignalMinLiquidity {
			return nil
		}
		last, err := e.store.LastSignalAt(ctx, addr)
		if err != nil {
			return err
		}
		if last != nil && (now-*last)/1000 < config.SignalCooldownSec {
			return nil
		}
		if err := record(DecisionSignal); err != nil {
			return err
		}
		if err := e.store.SetSignalCooldown(ctx, addr); err != nil {
			return err
		}
		signalID, err := e.store.EnrollSignal(ctx, store.SignalEvent{
			PairAddress: addr,
			SignalTS:    now,
			EntryPrice:  *currentPrice,
			ATHPrice:    ath.Price,
			DropFromATH: drop,
			Score:       drop,
			Features: map[string]any{
				"liq":  liq,
				"vol":  vol,
				"txns": txns,
				"buys": buys,
			},
		}, config.PostHorizonsSec)
		if err != nil {
			return err
		}
		e.log.Info().
			Int64("signal_id", signalID).
			Str("pair", addr).
			Float64("drop_from_ath", drop).
			Msg("signal emitted")
		res.Signals = append(res.Signals, entry)
		return nil

	default:
		level := 1
		switch {
		case drop >= config.WL3MinDrop:
			level = 3
		case drop >= config.WL2MinDrop:
			level = 2
		}
		level = downgrade(level, txns, liq)
		switch level {
		case 3:
			res.WL3 = append(res.WL3, entry)
			return record(DecisionWatchlistL3)
		case 2:
			res.WL2 = append(res.WL2, entry)
			return record(DecisionWatchlistL2)
		case 1:
			res.WL1 = append(res.WL1, entry)
			return record(DecisionWatchlistL1)
		default:
			reasons["reason"] = "market_quality_below_minimum"
			return record(DecisionReject)
		}
	}
}

// downgrade steps a watchlist level down while its market-quality minima
// are unmet; level 0 means REJECT.
func downgrade(level int, txns int64, liq float64) int {
	type minima struct {
		txns int64
		liq  float64
	}
	byLevel := map[int]minima{
		1: {config.WL1MinTxns, config.WL1MinLiquidityUSD},
		2: {config.WL2MinTxns, config.WL2MinLiquidityUSD},
		3: {config.WL3MinTxns, config.WL3MinLiquidityUSD},
	}
	for level > 0 {
		m := byLevel[level]
		if txns >= m.txns && liq >= m.liq {
			return level
		}
		level--
	}
	return 0
}

// bootstrap handles pairs with too little price history for a trusted
// ATH: hard filters still apply, and passing pairs are tracked so the
// next cycles can build real history.
func (e *Engine) bootstrap(ctx context.Context, entry Entry, res *Result) error {
	if entry.LiquidityUSD < config.BootstrapMinLiquidityUSD ||
		entry.VolumeH24 < config.StrategyMinVolumeH24 ||
		entry.TxnsH24 < config.BootstrapMinTxnsH24 {
		return nil
	}
	res.Bootstrap = append(res.Bootstrap, entry)
	return e.store.InsertStrategyDecision(ctx, store.Decision{
		PairAddress:  entry.PairAddress,
		Decision:     DecisionBootstrap,
		CurrentPrice: &entry.CurrentPrice,
		Reasons: map[string]any{
			"reason":    "insufficient_price_history",
			"ath_valid": false,
			"liq":       entry.LiquidityUSD,
			"vol":       entry.VolumeH24,
			"txns":      entry.TxnsH24,
		},
	})
}
