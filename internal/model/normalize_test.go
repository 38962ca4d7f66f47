package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairAddressSpellings(t *testing.T) {
	assert.Equal(t, "A", RawPair{"pairAddress": "A"}.PairAddress())
	assert.Equal(t, "A", RawPair{"pair_address": "A"}.PairAddress())
	assert.Equal(t, "A", RawPair{"pairAddress": "  A  "}.PairAddress())
	assert.Equal(t, "", RawPair{}.PairAddress())
	assert.Equal(t, "", RawPair{"pairAddress": nil}.PairAddress())
	assert.Equal(t, "", RawPair{"pairAddress": 42.0}.PairAddress())
}

func TestCoerceFloat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"float", 1.5, Float64Ptr(1.5)},
		{"numeric string", "1.5", Float64Ptr(1.5)},
		{"padded string", " 1.5 ", Float64Ptr(1.5)},
		{"zero is a value", 0.0, Float64Ptr(0)},
		{"missing", nil, nil},
		{"garbage string", "n/a", nil},
		{"empty string", "", nil},
		{"wrong type", []any{1.5}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceFloat(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *int64
	}{
		{"json number", 7.0, Int64Ptr(7)},
		{"truncates fraction", 7.9, Int64Ptr(7)},
		{"numeric string", "7", Int64Ptr(7)},
		{"zero is a value", 0.0, Int64Ptr(0)},
		{"missing", nil, nil},
		{"garbage string", "seven", nil},
		{"wrong type", map[string]any{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceInt(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestFromRawPairMixedTypes(t *testing.T) {
	raw := RawPair{
		"pairAddress": "PAIR1",
		"chainId":     "solana",
		"dexId":       "raydium",
		"url":         "https://dexscreener.com/solana/PAIR1",
		"baseToken":   map[string]any{"address": "BASE", "symbol": "TKN", "name": "Token"},
		"quoteToken":  map[string]any{"address": "SOL", "symbol": "SOL"},
		// Upstream serializes prices as strings and volumes as numbers.
		"priceUsd":    "0.0042",
		"priceNative": 0.000021,
		"liquidity":   map[string]any{"usd": 12500.0, "base": nil},
		"volume":      map[string]any{"m5": "850", "h24": 120000.0},
		"priceChange": map[string]any{"h24": -62.5},
		"txns": map[string]any{
			"m5":  map[string]any{"buys": 12.0, "sells": 30.0},
			"h24": map[string]any{"buys": "400", "sells": 700.0},
		},
		"fdv":           "not a number",
		"pairCreatedAt": 1_700_000_000_000.0,
	}

	snap := FromRawPair(raw, 1_700_000_100_000)

	assert.Equal(t, int64(1_700_000_100_000), snap.SnapshotTS)
	assert.Equal(t, "PAIR1", snap.PairAddress)
	assert.Equal(t, "raydium", snap.DexID)
	assert.Equal(t, Token{Address: "BASE", Symbol: "TKN", Name: "Token"}, snap.BaseToken)
	assert.Equal(t, "SOL", snap.QuoteToken.Address)

	require.NotNil(t, snap.PriceUSD)
	assert.Equal(t, 0.0042, *snap.PriceUSD)
	require.NotNil(t, snap.PriceNative)
	assert.Equal(t, 0.000021, *snap.PriceNative)

	require.NotNil(t, snap.LiquidityUSD)
	assert.Equal(t, 12500.0, *snap.LiquidityUSD)
	assert.Nil(t, snap.LiquidityBase)
	assert.Nil(t, snap.LiquidityQuote)

	require.NotNil(t, snap.VolumeM5)
	assert.Equal(t, 850.0, *snap.VolumeM5)
	assert.Nil(t, snap.VolumeH1)
	require.NotNil(t, snap.PriceChangeH24)
	assert.Equal(t, -62.5, *snap.PriceChangeH24)

	require.NotNil(t, snap.TxnsM5Buys)
	assert.Equal(t, int64(12), *snap.TxnsM5Buys)
	require.NotNil(t, snap.TxnsH24Buys)
	assert.Equal(t, int64(400), *snap.TxnsH24Buys)
	assert.Nil(t, snap.TxnsH1Buys) // whole period absent

	assert.Nil(t, snap.FDV) // unparsable, never zero
	require.NotNil(t, snap.PairCreatedAtMS)
	assert.Equal(t, int64(1_700_000_000_000), *snap.PairCreatedAtMS)
}

func TestFromRawPairEmptyObject(t *testing.T) {
	snap := FromRawPair(RawPair{}, 42)

	assert.Equal(t, int64(42), snap.SnapshotTS)
	assert.Equal(t, "solana", snap.ChainID) // default chain
	assert.Equal(t, "", snap.PairAddress)
	assert.Nil(t, snap.PriceUSD)
	assert.Nil(t, snap.VolumeH24)
	assert.Nil(t, snap.TxnsH24Buys)
	assert.Nil(t, snap.PairCreatedAtMS)
}

func TestFromRawPairIdempotent(t *testing.T) {
	raw := RawPair{
		"pairAddress": " PAIR1 ",
		"priceUsd":    "1.25",
		"liquidity":   map[string]any{"usd": "9000"},
		"txns":        map[string]any{"h24": map[string]any{"buys": 10.0}},
		"fdv":         nil,
	}

	first := FromRawPair(raw, 1000)
	second := FromRawPair(raw, 1000)
	assert.Equal(t, first, second)

	// Projecting an already-normalized value changes nothing either: feed
	// the snapshot's own fields back through and compare.
	again := RawPair{
		"pairAddress": first.PairAddress,
		"priceUsd":    *first.PriceUSD,
		"liquidity":   map[string]any{"usd": *first.LiquidityUSD},
		"txns":        map[string]any{"h24": map[string]any{"buys": float64(*first.TxnsH24Buys)}},
	}
	third := FromRawPair(again, 1000)
	assert.Equal(t, first, third)
}
