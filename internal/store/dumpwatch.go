package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Dump watchlist states.
const (
	StateDumping   = "DUMPING"
	StateBottoming = "BOTTOMING"
	StateSignal    = "SIGNAL"
)

// DumpEntry is the per-pair carrier of the dump/reversal state machine.
type DumpEntry struct {
	PairAddress string   `db:"pair_address"`
	AddedAtMS   int64    `db:"added_at_ms"`
	UpdatedAtMS int64    `db:"updated_at_ms"`
	State       string   `db:"state"`
	PeakPrice   float64  `db:"peak_price"`
	PeakTS      int64    `db:"peak_ts"`
	LowPrice    float64  `db:"low_price"`
	LowTS       int64    `db:"low_ts"`
	LastPrice   float64  `db:"last_price"`
	LastTS      int64    `db:"last_ts"`
	DropPct     float64  `db:"drop_pct"`
	VolumeM5    *float64 `db:"volume_m5"`
	BuysM5      *int64   `db:"buys_m5"`
	SellsM5     *int64   `db:"sells_m5"`
	SignalTS    *int64   `db:"signal_ts"`
	SignalPrice *float64 `db:"signal_price"`
}

// GetDumpEntry returns the watchlist entry for a pair, or nil when absent.
func (s *Store) GetDumpEntry(ctx context.Context, pairAddress string) (*DumpEntry, error) {
	var e DumpEntry
	err := s.db.GetContext(ctx, &e,
		`SELECT * FROM dump_watchlist WHERE pair_address = ?`, pairAddress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dump entry for %s: %w", pairAddress, err)
	}
	return &e, nil
}

// PutDumpEntry inserts or replaces the full watchlist row for the entry's
// pair. The state machine computes the row; the store just persists it.
func (s *Store) PutDumpEntry(ctx context.Context, e *DumpEntry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO dump_watchlist (
			pair_address, added_at_ms, updated_at_ms, state,
			peak_price, peak_ts, low_price, low_ts, last_price, last_ts,
			drop_pct, volume_m5, buys_m5, sells_m5, signal_ts, signal_price
		) VALUES (
			:pair_address, :added_at_ms, :updated_at_ms, :state,
			:peak_price, :peak_ts, :low_price, :low_ts, :last_price, :last_ts,
			:drop_pct, :volume_m5, :buys_m5, :sells_m5, :signal_ts, :signal_price
		)`, e)
	if err != nil {
		return fmt.Errorf("failed to put dump entry for %s: %w", e.PairAddress, err)
	}
	return nil
}

// IterateDumpWatchlist returns entries, optionally filtered by state, newest
// update first. limit <= 0 means no limit.
func (s *Store) IterateDumpWatchlist(ctx context.Context, state string, limit int) ([]DumpEntry, error) {
	query := `SELECT * FROM dump_watchlist`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY updated_at_ms DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var entries []DumpEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to iterate dump watchlist: %w", err)
	}
	return entries, nil
}
