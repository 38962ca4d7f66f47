package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream API defaults.
const (
	BaseURL         = "https://api.dexscreener.com"
	ChainSolana     = "solana"
	TokensChunkSize = 30
)

// HTTP client defaults.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 4
	DefaultBackoffBase  = 500 * time.Millisecond
	DefaultRateLimitRPS = 3.0
)

// Check command (smoke test) defaults.
const (
	CheckTimeout      = 15 * time.Second
	CheckMaxRetries   = 2
	CheckRateLimitRPS = 2.0
	CheckPairAddress  = "3nMFwZXwY1s1M5s8vYAHqd4wGs4iSxXE4LRoUMMYqEgF"
)

// Storage lifecycle defaults.
const (
	DefaultDBPath            = "solscreen.sqlite"
	DefaultPruneMaxAgeHours  = 24.0
	SelfCheckAgeHours        = 24.0
	DumpWatchlistTTLHours    = 3.0
	CollectNewIntervalSec    = 60.0
)

// Dump watchlist admission thresholds.
const (
	DumpDropThresholdPct = 50.0
	DumpMinLiquidityUSD  = 10_000.0
	DumpMinVolumeM5      = 500.0
	DumpMinSellsM5       = 5
)

// Dump state-machine transition thresholds.
const (
	BottomingPriceFactor = 1.003
	BottomingBuysFactor  = 0.8
	SignalBounceFactor   = 1.01
	SignalMinVolumeM5    = 300.0
)

// Strategy screener hard filters and age gate.
const (
	StrategyMaxAgeHours     = 24.0
	StrategyMinLiquidityUSD = 10_000.0
	StrategyMinVolumeH24    = 500.0
	StrategyMinTxnsH24      = 5
)

// ATH validation: guards against single-trade price spikes.
const (
	ATHValidateWindowSec    = 300.0
	ATHMinSnapshotsInWindow = 2
	ATHMinTxnsInWindow      = 1
	ATHMinVolumeInWindow    = 0.0
	ATHFallbackMaxAttempts  = 10
)

// Bootstrap branch: pairs with too little history for a trustworthy ATH.
const (
	BootstrapMinSnapshots    = ATHMinSnapshotsInWindow
	BootstrapMinLiquidityUSD = 10_000.0
	BootstrapMinTxnsH24      = 5
)

// Three-tier watchlist drop thresholds, percent from ATH.
const (
	WL1MinDrop    = 25.0
	WL2MinDrop    = 35.0
	WL3MinDrop    = 45.0
	SignalMinDrop = 50.0
	SignalMaxDrop = 60.0
)

// Per-level market-quality minima; entries below a level's minima downgrade.
const (
	WL1MinTxns = 5
	WL2MinTxns = 7
	WL3MinTxns = 10

	WL1MinLiquidityUSD = 10_000.0
	WL2MinLiquidityUSD = 15_000.0
	WL3MinLiquidityUSD = 20_000.0
)

// SIGNAL emission gate.
const (
	SignalMinTxnsH24     = 10
	SignalMinBuysH24     = 5
	SignalMinLiquidity   = 5_000.0
	SignalCooldownSec    = 3600
)

// Outcome analysis.
const (
	TP1Pct                 = 40.0
	SLPct                  = -50.0
	TriggerEvalMaxAgeSec   = 86400
	TriggerEvalMinSnapshot = 2
)

// PostHorizonsSec are the horizon evaluations enqueued per signal.
var PostHorizonsSec = []int64{1800, 3600, 7200}

// File is the optional yaml overlay for operational knobs. Strategy and
// state-machine thresholds are compile-time constants on purpose: changing
// them mid-dataset invalidates recorded decisions.
type File struct {
	DBPath          string  `yaml:"db_path"`
	BaseURL         string  `yaml:"base_url"`
	TimeoutSec      float64 `yaml:"timeout_sec"`
	MaxRetries      int     `yaml:"max_retries"`
	RateLimitRPS    float64 `yaml:"rate_limit_rps"`
	IntervalSec     float64 `yaml:"interval_sec"`
	PruneMaxAgeH    float64 `yaml:"prune_max_age_hours"`
	LogLevel        string  `yaml:"log_level"`
	MetricsAddr     string  `yaml:"metrics_addr"`
}

// Defaults returns a File populated with compiled defaults.
func Defaults() File {
	return File{
		DBPath:       DefaultDBPath,
		BaseURL:      BaseURL,
		TimeoutSec:   DefaultTimeout.Seconds(),
		MaxRetries:   DefaultMaxRetries,
		RateLimitRPS: DefaultRateLimitRPS,
		IntervalSec:  CollectNewIntervalSec,
		PruneMaxAgeH: DefaultPruneMaxAgeHours,
		LogLevel:     "info",
	}
}

// Load reads a yaml overlay and applies it on top of Defaults. A missing
// path returns Defaults unchanged.
func Load(path string) (File, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot operate with.
func (f File) Validate() error {
	if f.TimeoutSec <= 0 {
		return fmt.Errorf("config: timeout_sec must be > 0, got %v", f.TimeoutSec)
	}
	if f.MaxRetries < 1 {
		return fmt.Errorf("config: max_retries must be >= 1, got %d", f.MaxRetries)
	}
	if f.RateLimitRPS <= 0 {
		return fmt.Errorf("config: rate_limit_rps must be > 0, got %v", f.RateLimitRPS)
	}
	if f.IntervalSec < 1 {
		return fmt.Errorf("config: interval_sec must be >= 1, got %v", f.IntervalSec)
	}
	return nil
}

// Timeout returns the HTTP timeout as a duration.
func (f File) Timeout() time.Duration {
	return time.Duration(f.TimeoutSec * float64(time.Second))
}
