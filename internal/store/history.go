package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PricePoint is one (timestamp, price) observation in snapshot_ts units.
type PricePoint struct {
	TS    int64   `db:"snapshot_ts"`
	Price float64 `db:"price_usd"`
}

// ATHPoint pairs the highest observed price with the latest observation.
type ATHPoint struct {
	ATHPrice     float64
	ATHTS        int64
	CurrentPrice float64
	CurrentTS    int64
}

// ActivityWindow summarizes trading activity around a timestamp. Sum fields
// are nil when the schema lacks the corresponding columns.
type ActivityWindow struct {
	SnapshotsCount int
	TxnsSum        *int64
	BuysSum        *int64
	SellsSum       *int64
	VolumeSum      *float64
}

// PriceHistory returns ascending (ts, price) points with positive prices.
// sinceMS/untilMS are milliseconds and are normalized to the snapshot_ts
// unit; nil bounds are open.
func (s *Store) PriceHistory(ctx context.Context, pairAddress string, sinceMS, untilMS *int64) ([]PricePoint, error) {
	query := `SELECT snapshot_ts, price_usd FROM snapshots
		WHERE pair_address = ? AND price_usd IS NOT NULL AND price_usd > 0`
	args := []any{pairAddress}

	if sinceMS != nil || untilMS != nil {
		isMS, err := s.snapshotTSIsMS(ctx)
		if err != nil {
			return nil, err
		}
		if sinceMS != nil {
			query += ` AND snapshot_ts >= ?`
			args = append(args, normalizeTS(*sinceMS, isMS))
		}
		if untilMS != nil {
			query += ` AND snapshot_ts <= ?`
			args = append(args, normalizeTS(*untilMS, isMS))
		}
	}
	query += ` ORDER BY snapshot_ts ASC`

	var points []PricePoint
	if err := s.db.SelectContext(ctx, &points, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read price history for %s: %w", pairAddress, err)
	}
	return points, nil
}

// SnapshotCount returns the number of history rows for the pair.
func (s *Store) SnapshotCount(ctx context.Context, pairAddress string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM snapshots WHERE pair_address = ?`, pairAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots for %s: %w", pairAddress, err)
	}
	return n, nil
}

// LatestPrice returns the last positive snapshot price, falling back to the
// pairs row, or nil when neither has a price.
func (s *Store) LatestPrice(ctx context.Context, pairAddress string) (*float64, error) {
	var price float64
	err := s.db.GetContext(ctx, &price, `
		SELECT price_usd FROM snapshots
		WHERE pair_address = ? AND price_usd IS NOT NULL AND price_usd > 0
		ORDER BY snapshot_ts DESC LIMIT 1`, pairAddress)
	if err == nil {
		return &price, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read latest price for %s: %w", pairAddress, err)
	}

	var fromPair sql.NullFloat64
	err = s.db.GetContext(ctx, &fromPair,
		`SELECT price_usd FROM pairs WHERE pair_address = ?`, pairAddress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pair price for %s: %w", pairAddress, err)
	}
	if !fromPair.Valid {
		return nil, nil
	}
	return &fromPair.Float64, nil
}

// ATHPointSince returns the highest-priced snapshot (ties break toward the
// most recent) together with the latest observation, or nil when the pair
// has no positive-price history. sinceMS is milliseconds.
func (s *Store) ATHPointSince(ctx context.Context, pairAddress string, sinceMS *int64) (*ATHPoint, error) {
	where := ` FROM snapshots WHERE pair_address = ? AND price_usd IS NOT NULL AND price_usd > 0`
	args := []any{pairAddress}
	if sinceMS != nil {
		isMS, err := s.snapshotTSIsMS(ctx)
		if err != nil {
			return nil, err
		}
		where += ` AND snapshot_ts >= ?`
		args = append(args, normalizeTS(*sinceMS, isMS))
	}

	var ath PricePoint
	err := s.db.GetContext(ctx, &ath,
		`SELECT snapshot_ts, price_usd`+where+` ORDER BY price_usd DESC, snapshot_ts DESC LIMIT 1`, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ATH point for %s: %w", pairAddress, err)
	}

	var current PricePoint
	err = s.db.GetContext(ctx, &current,
		`SELECT snapshot_ts, price_usd`+where+` ORDER BY snapshot_ts DESC LIMIT 1`, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read current point for %s: %w", pairAddress, err)
	}

	return &ATHPoint{
		ATHPrice:     ath.Price,
		ATHTS:        ath.TS,
		CurrentPrice: current.Price,
		CurrentTS:    current.TS,
	}, nil
}

// ATHCandidates returns up to limit (price, ts) rows ordered by price DESC,
// ts DESC; the screener walks them when the raw ATH fails validation.
func (s *Store) ATHCandidates(ctx context.Context, pairAddress string, sinceMS *int64, limit int) ([]PricePoint, error) {
	if limit < 1 {
		limit = 1
	}
	query := `SELECT snapshot_ts, price_usd FROM snapshots
		WHERE pair_address = ? AND price_usd IS NOT NULL AND price_usd > 0`
	args := []any{pairAddress}
	if sinceMS != nil {
		isMS, err := s.snapshotTSIsMS(ctx)
		if err != nil {
			return nil, err
		}
		query += ` AND snapshot_ts >= ?`
		args = append(args, normalizeTS(*sinceMS, isMS))
	}
	query += ` ORDER BY price_usd DESC, snapshot_ts DESC LIMIT ?`
	args = append(args, limit)

	var points []PricePoint
	if err := s.db.SelectContext(ctx, &points, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read ATH candidates for %s: %w", pairAddress, err)
	}
	return points, nil
}

// tableColumns returns lowercase column names for the table.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   sql.NullString
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info for %s: %w", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// Activity computes trading activity in the inclusive window of total width
// windowSec centered on centerTS (already in the snapshot_ts unit). Sums
// degrade to nil when the schema lacks the txn or volume columns.
func (s *Store) Activity(ctx context.Context, pairAddress string, centerTS int64, windowSec float64) (ActivityWindow, error) {
	out := ActivityWindow{}

	isMS, err := s.snapshotTSIsMS(ctx)
	if err != nil {
		return out, err
	}
	unit := 1.0
	if isMS {
		unit = 1000.0
	}
	half := int64(windowSec * unit / 2)
	lo, hi := centerTS-half, centerTS+half

	err = s.db.GetContext(ctx, &out.SnapshotsCount, `
		SELECT COUNT(*) FROM snapshots
		WHERE pair_address = ? AND snapshot_ts >= ? AND snapshot_ts <= ?`,
		pairAddress, lo, hi)
	if err != nil {
		return out, fmt.Errorf("failed to count activity window for %s: %w", pairAddress, err)
	}

	cols, err := s.tableColumns(ctx, "snapshots")
	if err != nil {
		return out, err
	}

	if cols["txns_m5_buys"] && cols["txns_m5_sells"] {
		var sums struct {
			Txns  int64 `db:"txns_sum"`
			Buys  int64 `db:"buys_sum"`
			Sells int64 `db:"sells_sum"`
		}
		err = s.db.GetContext(ctx, &sums, `
			SELECT
				COALESCE(SUM(COALESCE(txns_m5_buys, 0) + COALESCE(txns_m5_sells, 0)), 0) AS txns_sum,
				COALESCE(SUM(COALESCE(txns_m5_buys, 0)), 0) AS buys_sum,
				COALESCE(SUM(COALESCE(txns_m5_sells, 0)), 0) AS sells_sum
			FROM snapshots
			WHERE pair_address = ? AND snapshot_ts >= ? AND snapshot_ts <= ?`,
			pairAddress, lo, hi)
		if err != nil {
			return out, fmt.Errorf("failed to sum txns for %s: %w", pairAddress, err)
		}
		out.TxnsSum = &sums.Txns
		out.BuysSum = &sums.Buys
		out.SellsSum = &sums.Sells
	}

	if cols["volume_m5"] {
		var vol float64
		err = s.db.GetContext(ctx, &vol, `
			SELECT COALESCE(SUM(COALESCE(volume_m5, 0)), 0)
			FROM snapshots
			WHERE pair_address = ? AND snapshot_ts >= ? AND snapshot_ts <= ?`,
			pairAddress, lo, hi)
		if err != nil {
			return out, fmt.Errorf("failed to sum volume for %s: %w", pairAddress, err)
		}
		out.VolumeSum = &vol
	}

	return out, nil
}

// SnapshotTail is the slice of a snapshot the dump state machine reads.
type SnapshotTail struct {
	PriceUSD *float64 `db:"price_usd"`
	VolumeM5 *float64 `db:"volume_m5"`
	BuysM5   *int64   `db:"txns_m5_buys"`
	SellsM5  *int64   `db:"txns_m5_sells"`
	TS       int64    `db:"snapshot_ts"`
}

// LatestSnapshots returns up to n most recent snapshot tails, newest first.
func (s *Store) LatestSnapshots(ctx context.Context, pairAddress string, n int) ([]SnapshotTail, error) {
	var tails []SnapshotTail
	err := s.db.SelectContext(ctx, &tails, `
		SELECT price_usd, volume_m5, txns_m5_buys, txns_m5_sells, snapshot_ts
		FROM snapshots WHERE pair_address = ?
		ORDER BY snapshot_ts DESC LIMIT ?`, pairAddress, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest snapshots for %s: %w", pairAddress, err)
	}
	return tails, nil
}

// PeakPoint returns the highest positive price and its timestamp, ties
// breaking toward the most recent, or nil with no positive history.
func (s *Store) PeakPoint(ctx context.Context, pairAddress string) (*PricePoint, error) {
	var p PricePoint
	err := s.db.GetContext(ctx, &p, `
		SELECT snapshot_ts, price_usd FROM snapshots
		WHERE pair_address = ? AND price_usd IS NOT NULL AND price_usd > 0
		ORDER BY price_usd DESC, snapshot_ts DESC LIMIT 1`, pairAddress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read peak point for %s: %w", pairAddress, err)
	}
	return &p, nil
}
