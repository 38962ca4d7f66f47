package model

// Token identifies a base or quote token of a pair.
type Token struct {
	Address string `db:"address"`
	Symbol  string `db:"symbol"`
	Name    string `db:"name"`
}

// Snapshot is the unified observation of a DEX pair at one instant. Every
// numeric field the upstream may omit is a pointer: nil means "not reported",
// never zero.
type Snapshot struct {
	SnapshotTS  int64  `db:"snapshot_ts"`
	ChainID     string `db:"chain_id"`
	DexID       string `db:"dex_id"`
	PairAddress string `db:"pair_address"`
	URL         string `db:"url"`

	BaseToken  Token `db:"-"`
	QuoteToken Token `db:"-"`

	PriceUSD    *float64 `db:"price_usd"`
	PriceNative *float64 `db:"price_native"`

	LiquidityUSD   *float64 `db:"liquidity_usd"`
	LiquidityBase  *float64 `db:"liquidity_base"`
	LiquidityQuote *float64 `db:"liquidity_quote"`

	VolumeM5  *float64 `db:"volume_m5"`
	VolumeH1  *float64 `db:"volume_h1"`
	VolumeH6  *float64 `db:"volume_h6"`
	VolumeH24 *float64 `db:"volume_h24"`

	PriceChangeM5  *float64 `db:"price_change_m5"`
	PriceChangeH1  *float64 `db:"price_change_h1"`
	PriceChangeH6  *float64 `db:"price_change_h6"`
	PriceChangeH24 *float64 `db:"price_change_h24"`

	TxnsM5Buys   *int64 `db:"txns_m5_buys"`
	TxnsM5Sells  *int64 `db:"txns_m5_sells"`
	TxnsH1Buys   *int64 `db:"txns_h1_buys"`
	TxnsH1Sells  *int64 `db:"txns_h1_sells"`
	TxnsH6Buys   *int64 `db:"txns_h6_buys"`
	TxnsH6Sells  *int64 `db:"txns_h6_sells"`
	TxnsH24Buys  *int64 `db:"txns_h24_buys"`
	TxnsH24Sells *int64 `db:"txns_h24_sells"`

	FDV       *float64 `db:"fdv"`
	MarketCap *float64 `db:"market_cap"`

	PairCreatedAtMS *int64 `db:"pair_created_at_ms"`
}

// AgeSeconds returns the pair age at snapshot time, or nil when the provider
// did not report a creation timestamp.
func (s *Snapshot) AgeSeconds() *float64 {
	if s.PairCreatedAtMS == nil {
		return nil
	}
	age := float64(s.SnapshotTS-*s.PairCreatedAtMS) / 1000.0
	return &age
}

// Float64Ptr and Int64Ptr build optional fields in tests and fixtures.
func Float64Ptr(v float64) *float64 { return &v }

func Int64Ptr(v int64) *int64 { return &v }
