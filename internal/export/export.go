// Package export renders database tables as JSON or CSV for downstream
// tooling. Column order always follows the table's schema order.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/solscreen/solscreen/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json or csv)", s)
	}
}

// Table writes up to limit rows of the named table to w in the given
// format. limit <= 0 means all rows. Returns the row count written.
func Table(ctx context.Context, s *store.Store, w io.Writer, table string, format Format, limit int) (int, error) {
	if !store.ExportableTable(table) {
		return 0, fmt.Errorf("table %q is not exportable", table)
	}
	cols, rows, err := s.ExportRows(ctx, table, limit)
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatCSV:
		err = writeCSV(w, cols, rows)
	default:
		err = writeJSON(w, cols, rows)
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ToFile is Table writing to a path; "" or "-" means stdout.
func ToFile(ctx context.Context, s *store.Store, path, table string, format Format, limit int) (int, error) {
	if path == "" || path == "-" {
		return Table(ctx, s, os.Stdout, table, format, limit)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := Table(ctx, s, f, table, format, limit)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// DumpWatchlist writes the dump watchlist, optionally filtered by state,
// in the given format. Returns the entry count written.
func DumpWatchlist(ctx context.Context, s *store.Store, w io.Writer, format Format, state string, limit int) (int, error) {
	entries, err := s.IterateDumpWatchlist(ctx, state, limit)
	if err != nil {
		return 0, err
	}
	cols := []string{
		"pair_address", "state", "added_at_ms", "updated_at_ms",
		"peak_price", "peak_ts", "low_price", "low_ts",
		"last_price", "last_ts", "drop_pct",
		"volume_m5", "buys_m5", "sells_m5",
		"signal_ts", "signal_price",
	}
	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"pair_address": e.PairAddress,
			"state":        e.State,
			"added_at_ms":  e.AddedAtMS, "updated_at_ms": e.UpdatedAtMS,
			"peak_price": e.PeakPrice, "peak_ts": e.PeakTS,
			"low_price": e.LowPrice, "low_ts": e.LowTS,
			"last_price": e.LastPrice, "last_ts": e.LastTS,
			"drop_pct":  e.DropPct,
			"volume_m5": optF(e.VolumeM5), "buys_m5": optI(e.BuysM5), "sells_m5": optI(e.SellsM5),
			"signal_ts": optI(e.SignalTS), "signal_price": optF(e.SignalPrice),
		})
	}
	if format == FormatCSV {
		err = writeCSV(w, cols, rows)
	} else {
		err = writeJSON(w, cols, rows)
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func optF(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func optI(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// writeJSON emits an array of objects. Column order is preserved by
// building each object by hand rather than marshaling the map.
func writeJSON(w io.Writer, cols []string, rows []map[string]any) error {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}
	for i, row := range rows {
		if _, err := io.WriteString(w, "  {"); err != nil {
			return err
		}
		for j, col := range cols {
			key, err := json.Marshal(col)
			if err != nil {
				return err
			}
			val, err := json.Marshal(row[col])
			if err != nil {
				return fmt.Errorf("failed to encode column %s: %w", col, err)
			}
			if j > 0 {
				if _, err := io.WriteString(w, ", "); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s: %s", key, val); err != nil {
				return err
			}
		}
		sep := "},\n"
		if i == len(rows)-1 {
			sep = "}\n"
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

func writeCSV(w io.Writer, cols []string, rows []map[string]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, row := range rows {
		for i, col := range cols {
			record[i] = cellString(row[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
