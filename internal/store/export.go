package store

import (
	"context"
	"fmt"
)

// Tables that commands may dump. Table names are interpolated into SQL, so
// only names from this set are accepted.
var exportableTables = map[string]struct{}{
	"tokens":                     {},
	"pairs":                      {},
	"snapshots":                  {},
	"dump_watchlist":             {},
	"strategy_decisions":         {},
	"strategy_latest":            {},
	"signal_events":              {},
	"signal_evaluations":         {},
	"signal_trigger_evaluations": {},
}

// ExportableTable reports whether name can be passed to ExportRows.
func ExportableTable(name string) bool {
	_, ok := exportableTables[name]
	return ok
}

// ExportRows reads up to limit rows (all rows when limit <= 0) from one of
// the exportable tables, preserving the table's column order.
func (s *Store) ExportRows(ctx context.Context, table string, limit int) ([]string, []map[string]any, error) {
	if !ExportableTable(table) {
		return nil, nil, fmt.Errorf("table %q is not exportable", table)
	}
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to export %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s columns: %w", table, err)
	}

	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		// sqlite hands TEXT back as []byte through the generic scanner.
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate %s rows: %w", table, err)
	}
	return cols, out, nil
}

// CountRows returns the row count of an exportable table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if !ExportableTable(table) {
		return 0, fmt.Errorf("table %q is not exportable", table)
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", table, err)
	}
	return n, nil
}

// HorizonSummary aggregates DONE horizon evaluations for one horizon.
type HorizonSummary struct {
	HorizonSec   int64    `db:"horizon_sec"`
	Done         int64    `db:"done"`
	AvgReturnEnd *float64 `db:"avg_return_end"`
	AvgMaxReturn *float64 `db:"avg_max_return"`
	AvgMinReturn *float64 `db:"avg_min_return"`
}

// HorizonSummaries returns per-horizon aggregates over DONE evaluations.
func (s *Store) HorizonSummaries(ctx context.Context) ([]HorizonSummary, error) {
	var out []HorizonSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT horizon_sec,
		       COUNT(*) AS done,
		       AVG(return_end_pct) AS avg_return_end,
		       AVG(max_return_pct) AS avg_max_return,
		       AVG(min_return_pct) AS avg_min_return
		FROM signal_evaluations
		WHERE status = 'DONE'
		GROUP BY horizon_sec
		ORDER BY horizon_sec ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize horizon evaluations: %w", err)
	}
	return out, nil
}

// PostTP1MaxPcts returns post-TP1 max returns over DONE TP1_FIRST
// trigger evaluations, unsorted.
func (s *Store) PostTP1MaxPcts(ctx context.Context) ([]float64, error) {
	var out []float64
	err := s.db.SelectContext(ctx, &out, `
		SELECT post_tp1_max_pct FROM signal_trigger_evaluations
		WHERE status = 'DONE' AND outcome = 'TP1_FIRST' AND post_tp1_max_pct IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-tp1 returns: %w", err)
	}
	return out, nil
}

// TopSignal is one row of the best-performers table in the analyze report.
type TopSignal struct {
	PairAddress   string  `db:"pair_address"`
	EntryPrice    float64 `db:"entry_price"`
	PostTP1MaxPct float64 `db:"post_tp1_max_pct"`
	URL           string  `db:"url"`
}

// TopPostTP1 returns the best post-TP1 runners, highest first.
func (s *Store) TopPostTP1(ctx context.Context, limit int) ([]TopSignal, error) {
	if limit < 1 {
		limit = 1
	}
	var out []TopSignal
	err := s.db.SelectContext(ctx, &out, `
		SELECT s.pair_address, s.entry_price, t.post_tp1_max_pct, COALESCE(p.url, '') AS url
		FROM signal_trigger_evaluations t
		JOIN signal_events s ON s.id = t.signal_id
		LEFT JOIN pairs p ON p.pair_address = s.pair_address
		WHERE t.status = 'DONE' AND t.outcome = 'TP1_FIRST' AND t.post_tp1_max_pct IS NOT NULL
		ORDER BY t.post_tp1_max_pct DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read top post-tp1 signals: %w", err)
	}
	return out, nil
}

// TriggerSummary aggregates trigger evaluations for the analyze report.
type TriggerSummary struct {
	Signals   int64
	Pending   int64
	NoData    int64
	Done      int64
	TP1First  int64
	SLFirst   int64
	Neither   int64
	BUAfter   int64
	AvgMFEPct *float64
	AvgMAEPct *float64
}

// SummarizeTriggers computes outcome counts and average excursions.
func (s *Store) SummarizeTriggers(ctx context.Context) (TriggerSummary, error) {
	var sum TriggerSummary
	if err := s.db.GetContext(ctx, &sum.Signals, `SELECT COUNT(*) FROM signal_events`); err != nil {
		return sum, fmt.Errorf("failed to count signals: %w", err)
	}
	row := struct {
		Pending   int64    `db:"pending"`
		NoData    int64    `db:"no_data"`
		Done      int64    `db:"done"`
		TP1First  int64    `db:"tp1_first"`
		SLFirst   int64    `db:"sl_first"`
		Neither   int64    `db:"neither"`
		BUAfter   int64    `db:"bu_after"`
		AvgMFEPct *float64 `db:"avg_mfe"`
		AvgMAEPct *float64 `db:"avg_mae"`
	}{}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COALESCE(SUM(status = 'PENDING'), 0) AS pending,
			COALESCE(SUM(status = 'NO_DATA'), 0) AS no_data,
			COALESCE(SUM(status = 'DONE'), 0) AS done,
			COALESCE(SUM(outcome = 'TP1_FIRST'), 0) AS tp1_first,
			COALESCE(SUM(outcome = 'SL_FIRST'), 0) AS sl_first,
			COALESCE(SUM(outcome = 'NEITHER'), 0) AS neither,
			COALESCE(SUM(bu_hit_after_tp1 = 1), 0) AS bu_after,
			AVG(CASE WHEN status = 'DONE' THEN mfe_pct END) AS avg_mfe,
			AVG(CASE WHEN status = 'DONE' THEN mae_pct END) AS avg_mae
		FROM signal_trigger_evaluations`)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize trigger evaluations: %w", err)
	}
	sum.Pending = row.Pending
	sum.NoData = row.NoData
	sum.Done = row.Done
	sum.TP1First = row.TP1First
	sum.SLFirst = row.SLFirst
	sum.Neither = row.Neither
	sum.BUAfter = row.BUAfter
	sum.AvgMFEPct = row.AvgMFEPct
	sum.AvgMAEPct = row.AvgMAEPct
	return sum, nil
}
