package model

import (
	"strconv"
	"strings"
)

// RawPair is a decoded pair object from any upstream endpoint. The provider
// mixes numbers, numeric strings, and nulls freely, so all field access goes
// through the coercion helpers below.
type RawPair map[string]any

// PairAddress returns the trimmed pair address, or "" when absent. Both the
// camelCase and snake_case spellings occur in the wild.
func (r RawPair) PairAddress() string {
	if addr := coerceString(r["pairAddress"]); addr != "" {
		return addr
	}
	return coerceString(r["pair_address"])
}

// FromRawPair projects a raw pair object into a Snapshot. Missing, null, or
// unparsable values become nil fields. The projection is deterministic and
// idempotent: the same raw object always yields the same Snapshot.
func FromRawPair(raw RawPair, snapshotTS int64) Snapshot {
	chainID := coerceString(raw["chainId"])
	if chainID == "" {
		chainID = "solana"
	}

	liq := coerceMap(raw["liquidity"])
	vol := coerceMap(raw["volume"])
	pc := coerceMap(raw["priceChange"])
	txns := coerceMap(raw["txns"])

	return Snapshot{
		SnapshotTS:  snapshotTS,
		ChainID:     chainID,
		DexID:       coerceString(raw["dexId"]),
		PairAddress: raw.PairAddress(),
		URL:         coerceString(raw["url"]),
		BaseToken:   tokenFrom(raw["baseToken"]),
		QuoteToken:  tokenFrom(raw["quoteToken"]),

		PriceUSD:    coerceFloat(raw["priceUsd"]),
		PriceNative: coerceFloat(raw["priceNative"]),

		LiquidityUSD:   coerceFloat(liq["usd"]),
		LiquidityBase:  coerceFloat(liq["base"]),
		LiquidityQuote: coerceFloat(liq["quote"]),

		VolumeM5:  coerceFloat(vol["m5"]),
		VolumeH1:  coerceFloat(vol["h1"]),
		VolumeH6:  coerceFloat(vol["h6"]),
		VolumeH24: coerceFloat(vol["h24"]),

		PriceChangeM5:  coerceFloat(pc["m5"]),
		PriceChangeH1:  coerceFloat(pc["h1"]),
		PriceChangeH6:  coerceFloat(pc["h6"]),
		PriceChangeH24: coerceFloat(pc["h24"]),

		TxnsM5Buys:   txnCount(txns, "m5", "buys"),
		TxnsM5Sells:  txnCount(txns, "m5", "sells"),
		TxnsH1Buys:   txnCount(txns, "h1", "buys"),
		TxnsH1Sells:  txnCount(txns, "h1", "sells"),
		TxnsH6Buys:   txnCount(txns, "h6", "buys"),
		TxnsH6Sells:  txnCount(txns, "h6", "sells"),
		TxnsH24Buys:  txnCount(txns, "h24", "buys"),
		TxnsH24Sells: txnCount(txns, "h24", "sells"),

		FDV:       coerceFloat(raw["fdv"]),
		MarketCap: coerceFloat(raw["marketCap"]),

		PairCreatedAtMS: coerceInt(raw["pairCreatedAt"]),
	}
}

func tokenFrom(v any) Token {
	m := coerceMap(v)
	return Token{
		Address: coerceString(m["address"]),
		Symbol:  coerceString(m["symbol"]),
		Name:    coerceString(m["name"]),
	}
}

func txnCount(txns map[string]any, period, side string) *int64 {
	p := coerceMap(txns[period])
	if p == nil {
		return nil
	}
	return coerceInt(p[side])
}

func coerceMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func coerceString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// coerceFloat accepts float64 (json numbers), numeric strings, and ints.
// Anything else maps to nil.
func coerceFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// coerceInt truncates float inputs; json decodes all numbers as float64.
func coerceInt(v any) *int64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		i := int64(t)
		return &i
	case int:
		i := int64(t)
		return &i
	case int64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		i := int64(f)
		return &i
	default:
		return nil
	}
}
