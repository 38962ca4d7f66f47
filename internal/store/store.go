// Package store owns the embedded sqlite database: schema, row-level CRUD,
// pruning, invariant checks, and the read projections the analytics layers
// run on. All mutations are transactional at the operation boundary; no
// other package touches SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/solscreen/solscreen/internal/model"
)

// msThreshold separates second from millisecond timestamps: any value above
// it is treated as milliseconds.
const msThreshold = int64(1_000_000_000_000)

// Store is a single-connection sqlite wrapper. The process-level file lock
// guarantees one writer; within the process all calls share one connection
// so reads observe prior writes.
type Store struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if needed) the database at path and provisions the
// schema. Forward-only: missing tables and indices are created, nothing is
// dropped.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// Serialized access through one connection keeps transaction semantics
	// identical to the single-writer model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to provision schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// nowMS is swapped in tests to pin the clock.
var nowMS = func() int64 { return time.Now().UnixMilli() }

// UpsertToken inserts or replaces a token by address.
func (s *Store) UpsertToken(ctx context.Context, chainID string, tok model.Token) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tokens (address, chain_id, symbol, name) VALUES (?, ?, ?, ?)`,
		tok.Address, chainID, tok.Symbol, tok.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert token %s: %w", tok.Address, err)
	}
	return nil
}

const pairColumnList = `pair_address, chain_id, dex_id, url,
	base_address, base_symbol, base_name,
	quote_address, quote_symbol, quote_name,
	price_usd, price_native,
	liquidity_usd, liquidity_base, liquidity_quote,
	volume_m5, volume_h1, volume_h6, volume_h24,
	price_change_m5, price_change_h1, price_change_h6, price_change_h24,
	txns_m5_buys, txns_m5_sells, txns_h1_buys, txns_h1_sells,
	txns_h6_buys, txns_h6_sells, txns_h24_buys, txns_h24_sells,
	fdv, market_cap, pair_created_at_ms, snapshot_ts`

const pairPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func snapshotArgs(snap *model.Snapshot) []any {
	return []any{
		snap.PairAddress, snap.ChainID, snap.DexID, snap.URL,
		snap.BaseToken.Address, snap.BaseToken.Symbol, snap.BaseToken.Name,
		snap.QuoteToken.Address, snap.QuoteToken.Symbol, snap.QuoteToken.Name,
		snap.PriceUSD, snap.PriceNative,
		snap.LiquidityUSD, snap.LiquidityBase, snap.LiquidityQuote,
		snap.VolumeM5, snap.VolumeH1, snap.VolumeH6, snap.VolumeH24,
		snap.PriceChangeM5, snap.PriceChangeH1, snap.PriceChangeH6, snap.PriceChangeH24,
		snap.TxnsM5Buys, snap.TxnsM5Sells, snap.TxnsH1Buys, snap.TxnsH1Sells,
		snap.TxnsH6Buys, snap.TxnsH6Sells, snap.TxnsH24Buys, snap.TxnsH24Sells,
		snap.FDV, snap.MarketCap, snap.PairCreatedAtMS, snap.SnapshotTS,
	}
}

// UpsertPair inserts or replaces the latest-state row for the snapshot's pair.
func (s *Store) UpsertPair(ctx context.Context, snap *model.Snapshot) error {
	query := `INSERT OR REPLACE INTO pairs (` + pairColumnList + `) VALUES (` + pairPlaceholders + `)`
	if _, err := s.db.ExecContext(ctx, query, snapshotArgs(snap)...); err != nil {
		return fmt.Errorf("failed to upsert pair %s: %w", snap.PairAddress, err)
	}
	return nil
}

// InsertSnapshot appends one immutable history row.
func (s *Store) InsertSnapshot(ctx context.Context, snap *model.Snapshot) error {
	query := `INSERT INTO snapshots (` + pairColumnList + `) VALUES (` + pairPlaceholders + `)`
	if _, err := s.db.ExecContext(ctx, query, snapshotArgs(snap)...); err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.PairAddress, err)
	}
	return nil
}

// PersistSnapshot writes base token, quote token, pair, and snapshot in one
// transaction. The original design committed each step separately, which
// could leave a pair without its snapshot after a crash; combining them
// closes that window.
func (s *Store) PersistSnapshot(ctx context.Context, snap *model.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin persist transaction: %w", err)
	}
	defer tx.Rollback()

	for _, tok := range []model.Token{snap.BaseToken, snap.QuoteToken} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tokens (address, chain_id, symbol, name) VALUES (?, ?, ?, ?)`,
			tok.Address, snap.ChainID, tok.Symbol, tok.Name); err != nil {
			return fmt.Errorf("failed to upsert token %s: %w", tok.Address, err)
		}
	}

	args := snapshotArgs(snap)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO pairs (`+pairColumnList+`) VALUES (`+pairPlaceholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to upsert pair %s: %w", snap.PairAddress, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (`+pairColumnList+`) VALUES (`+pairPlaceholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.PairAddress, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit persist transaction: %w", err)
	}
	return nil
}

// KnownPairAddresses returns every pair_address in the pairs table; the
// ingestion pipeline uses it for deduplication.
func (s *Store) KnownPairAddresses(ctx context.Context) (map[string]struct{}, error) {
	var addrs []string
	if err := s.db.SelectContext(ctx, &addrs, `SELECT pair_address FROM pairs`); err != nil {
		return nil, fmt.Errorf("failed to read known pair addresses: %w", err)
	}
	known := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		known[a] = struct{}{}
	}
	return known, nil
}

// PairRow carries the pair fields the screener and exports read. Optional
// columns scan into pointers: NULL stays nil.
type PairRow struct {
	PairAddress     string   `db:"pair_address"`
	ChainID         *string  `db:"chain_id"`
	DexID           *string  `db:"dex_id"`
	URL             *string  `db:"url"`
	BaseAddress     *string  `db:"base_address"`
	QuoteAddress    *string  `db:"quote_address"`
	PriceUSD        *float64 `db:"price_usd"`
	LiquidityUSD    *float64 `db:"liquidity_usd"`
	VolumeH24       *float64 `db:"volume_h24"`
	TxnsH24Buys     *int64   `db:"txns_h24_buys"`
	TxnsH24Sells    *int64   `db:"txns_h24_sells"`
	PairCreatedAtMS *int64   `db:"pair_created_at_ms"`
	SnapshotTS      *int64   `db:"snapshot_ts"`
}

// IteratePairs returns all pair rows in their projected form.
func (s *Store) IteratePairs(ctx context.Context) ([]PairRow, error) {
	var rows []PairRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT pair_address, chain_id, dex_id, url, base_address, quote_address,
		       price_usd, liquidity_usd, volume_h24, txns_h24_buys, txns_h24_sells,
		       pair_created_at_ms, snapshot_ts
		FROM pairs`)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate pairs: %w", err)
	}
	return rows, nil
}

// PairLiquidity returns liquidity_usd for a pair, 0 when unknown.
func (s *Store) PairLiquidity(ctx context.Context, pairAddress string) (float64, error) {
	var liq sql.NullFloat64
	err := s.db.GetContext(ctx, &liq,
		`SELECT liquidity_usd FROM pairs WHERE pair_address = ?`, pairAddress)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read pair liquidity: %w", err)
	}
	if !liq.Valid {
		return 0, nil
	}
	return liq.Float64, nil
}

// snapshotTSIsMS reports whether snapshot_ts values are milliseconds. An
// empty table defaults to milliseconds, matching what the pipeline writes.
func (s *Store) snapshotTSIsMS(ctx context.Context) (bool, error) {
	var maxTS sql.NullInt64
	if err := s.db.GetContext(ctx, &maxTS, `SELECT MAX(snapshot_ts) FROM snapshots`); err != nil {
		return true, fmt.Errorf("failed to detect snapshot_ts unit: %w", err)
	}
	if !maxTS.Valid || maxTS.Int64 == 0 {
		return true, nil
	}
	return maxTS.Int64 > msThreshold, nil
}

// normalizeTS converts a millisecond timestamp into the snapshot_ts unit.
func normalizeTS(tsMS int64, isMS bool) int64 {
	if isMS {
		return tsMS
	}
	return tsMS / 1000
}
