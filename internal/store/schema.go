package store

// Forward-only schema: tables and indices are created on open, never
// dropped. New columns may appear in later versions; readers probe for
// optional columns instead of assuming them.

const schemaTokens = `
CREATE TABLE IF NOT EXISTS tokens (
    address TEXT PRIMARY KEY,
    chain_id TEXT,
    symbol TEXT,
    name TEXT
);`

const pairColumns = `
    chain_id TEXT,
    dex_id TEXT,
    url TEXT,
    base_address TEXT,
    base_symbol TEXT,
    base_name TEXT,
    quote_address TEXT,
    quote_symbol TEXT,
    quote_name TEXT,
    price_usd REAL,
    price_native REAL,
    liquidity_usd REAL,
    liquidity_base REAL,
    liquidity_quote REAL,
    volume_m5 REAL,
    volume_h1 REAL,
    volume_h6 REAL,
    volume_h24 REAL,
    price_change_m5 REAL,
    price_change_h1 REAL,
    price_change_h6 REAL,
    price_change_h24 REAL,
    txns_m5_buys INTEGER,
    txns_m5_sells INTEGER,
    txns_h1_buys INTEGER,
    txns_h1_sells INTEGER,
    txns_h6_buys INTEGER,
    txns_h6_sells INTEGER,
    txns_h24_buys INTEGER,
    txns_h24_sells INTEGER,
    fdv REAL,
    market_cap REAL,
    pair_created_at_ms INTEGER,
    snapshot_ts INTEGER`

const schemaPairs = `
CREATE TABLE IF NOT EXISTS pairs (
    pair_address TEXT PRIMARY KEY,` + pairColumns + `
);`

const schemaSnapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair_address TEXT NOT NULL,` + pairColumns + `
);`

const schemaDumpWatchlist = `
CREATE TABLE IF NOT EXISTS dump_watchlist (
    pair_address TEXT PRIMARY KEY,
    added_at_ms INTEGER NOT NULL,
    updated_at_ms INTEGER NOT NULL,
    state TEXT NOT NULL,
    peak_price REAL NOT NULL,
    peak_ts INTEGER NOT NULL,
    low_price REAL NOT NULL,
    low_ts INTEGER NOT NULL,
    last_price REAL NOT NULL,
    last_ts INTEGER NOT NULL,
    drop_pct REAL NOT NULL,
    volume_m5 REAL,
    buys_m5 INTEGER,
    sells_m5 INTEGER,
    signal_ts INTEGER,
    signal_price REAL
);`

const schemaStrategyDecisions = `
CREATE TABLE IF NOT EXISTS strategy_decisions (
    pair_address TEXT NOT NULL,
    decided_at INTEGER NOT NULL,
    decision TEXT NOT NULL,
    current_price REAL,
    ath_price REAL,
    drop_from_ath REAL,
    reasons_json TEXT
);`

const schemaStrategyLatest = `
CREATE TABLE IF NOT EXISTS strategy_latest (
    pair_address TEXT PRIMARY KEY,
    last_decision TEXT NOT NULL,
    last_score REAL,
    last_drop_from_ath REAL,
    last_current_price REAL,
    last_ath_price REAL,
    last_decided_at INTEGER NOT NULL,
    last_reasons_json TEXT
);`

const schemaSignalCooldowns = `
CREATE TABLE IF NOT EXISTS signal_cooldowns (
    pair_address TEXT PRIMARY KEY,
    last_signal_at INTEGER NOT NULL
);`

const schemaSignalEvents = `
CREATE TABLE IF NOT EXISTS signal_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair_address TEXT NOT NULL,
    signal_ts INTEGER NOT NULL,
    entry_price REAL NOT NULL,
    ath_price REAL NOT NULL,
    drop_from_ath REAL NOT NULL,
    score REAL NOT NULL,
    features_json TEXT
);`

const schemaSignalEvaluations = `
CREATE TABLE IF NOT EXISTS signal_evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id INTEGER NOT NULL REFERENCES signal_events(id),
    horizon_sec INTEGER NOT NULL,
    evaluated_at INTEGER,
    price_end REAL,
    max_price REAL,
    min_price REAL,
    return_end_pct REAL,
    max_return_pct REAL,
    min_return_pct REAL,
    status TEXT NOT NULL DEFAULT 'PENDING'
);`

const schemaSignalTriggerEvaluations = `
CREATE TABLE IF NOT EXISTS signal_trigger_evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id INTEGER NOT NULL REFERENCES signal_events(id),
    evaluated_at INTEGER,
    status TEXT NOT NULL DEFAULT 'PENDING',
    outcome TEXT,
    tp1_hit_ts INTEGER,
    sl_hit_ts INTEGER,
    tp1_price REAL,
    sl_price REAL,
    mfe_pct REAL,
    mae_pct REAL,
    max_price REAL,
    min_price REAL,
    bu_hit_after_tp1 INTEGER,
    post_tp1_max_pct REAL,
    post_tp1_max_price REAL,
    UNIQUE(signal_id)
);`

const schemaAppStatus = `
CREATE TABLE IF NOT EXISTS app_status (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    updated_at_ms INTEGER NOT NULL,
    last_cycle_started_at_ms INTEGER,
    last_cycle_finished_at_ms INTEGER,
    last_error TEXT,
    last_error_at_ms INTEGER,
    counters_json TEXT
);`

var schemaStatements = []string{
	schemaTokens,
	schemaPairs,
	schemaSnapshots,
	schemaDumpWatchlist,
	schemaStrategyDecisions,
	schemaStrategyLatest,
	schemaSignalCooldowns,
	schemaSignalEvents,
	schemaSignalEvaluations,
	schemaSignalTriggerEvaluations,
	schemaAppStatus,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_pair_ts ON snapshots (pair_address, snapshot_ts);`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_pair_address ON snapshots (pair_address);`,
	`CREATE INDEX IF NOT EXISTS idx_pairs_pair_created_at_ms ON pairs (pair_created_at_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_dump_watchlist_state ON dump_watchlist(state);`,
	`CREATE INDEX IF NOT EXISTS idx_dump_watchlist_updated ON dump_watchlist(updated_at_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_decisions_pair ON strategy_decisions(pair_address);`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_decisions_decided_at ON strategy_decisions(decided_at);`,
	`CREATE INDEX IF NOT EXISTS idx_signal_events_pair ON signal_events(pair_address);`,
	`CREATE INDEX IF NOT EXISTS idx_signal_events_signal_ts ON signal_events(signal_ts);`,
	`CREATE INDEX IF NOT EXISTS idx_signal_evaluations_signal ON signal_evaluations(signal_id);`,
	`CREATE INDEX IF NOT EXISTS idx_signal_evaluations_status ON signal_evaluations(status);`,
	`CREATE INDEX IF NOT EXISTS idx_signal_trigger_evals_status ON signal_trigger_evaluations(status);`,
}
