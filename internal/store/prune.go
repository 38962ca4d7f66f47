package store

import (
	"context"
	"fmt"
)

// PruneCounts reports what a prune pass removed (or would remove, for a
// dry run).
type PruneCounts struct {
	Snapshots int64
	Pairs     int64
	Tokens    int64
}

// InvariantCounts is the result of SelfCheckInvariants; all three are zero
// on a healthy store.
type InvariantCounts struct {
	OldPairs         int64
	OldPairSnapshots int64
	OrphanTokens     int64
}

const oldPairCond = `pair_created_at_ms IS NOT NULL
	AND pair_created_at_ms != 0
	AND pair_created_at_ms < ?`

// PruneByPairAge deletes, in one write transaction: snapshots of pairs older
// than maxAgeHours, those pairs, then tokens no pair references. Pairs with
// unknown creation time are never deleted. dryRun returns counts without
// mutating; vacuum reclaims file space after a destructive pass.
func (s *Store) PruneByPairAge(ctx context.Context, maxAgeHours float64, dryRun, vacuum bool) (PruneCounts, error) {
	cutoffMS := nowMS() - int64(maxAgeHours*3600*1000)
	counts := PruneCounts{}

	snapshotsWhere := `EXISTS (
		SELECT 1 FROM pairs p
		WHERE p.pair_address = snapshots.pair_address
		  AND p.` + oldPairCond + `
	)`
	tokensWhere := `NOT EXISTS (
		SELECT 1 FROM pairs p
		WHERE p.base_address = tokens.address
		   OR p.quote_address = tokens.address
	)`

	if dryRun {
		if err := s.db.GetContext(ctx, &counts.Snapshots,
			`SELECT COUNT(*) FROM snapshots WHERE `+snapshotsWhere, cutoffMS); err != nil {
			return counts, fmt.Errorf("failed to count prunable snapshots: %w", err)
		}
		if err := s.db.GetContext(ctx, &counts.Pairs,
			`SELECT COUNT(*) FROM pairs WHERE `+oldPairCond, cutoffMS); err != nil {
			return counts, fmt.Errorf("failed to count prunable pairs: %w", err)
		}
		if err := s.db.GetContext(ctx, &counts.Tokens,
			`SELECT COUNT(*) FROM tokens WHERE `+tokensWhere); err != nil {
			return counts, fmt.Errorf("failed to count orphan tokens: %w", err)
		}
		return counts, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE `+snapshotsWhere, cutoffMS)
	if err != nil {
		return counts, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	counts.Snapshots, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM pairs WHERE `+oldPairCond, cutoffMS)
	if err != nil {
		return counts, fmt.Errorf("failed to prune pairs: %w", err)
	}
	counts.Pairs, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM tokens WHERE `+tokensWhere)
	if err != nil {
		return counts, fmt.Errorf("failed to prune tokens: %w", err)
	}
	counts.Tokens, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return counts, fmt.Errorf("failed to commit prune: %w", err)
	}

	if vacuum {
		if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
			return counts, fmt.Errorf("failed to vacuum after prune: %w", err)
		}
	}
	return counts, nil
}

// SelfCheckInvariants counts pairs older than the retention horizon,
// snapshots belonging to them, and orphan tokens. Non-zero counts mean a
// prune pass is due or the lifecycle contract was violated.
func (s *Store) SelfCheckInvariants(ctx context.Context, maxAgeHours float64) (InvariantCounts, error) {
	cutoffMS := nowMS() - int64(maxAgeHours*3600*1000)
	counts := InvariantCounts{}

	if err := s.db.GetContext(ctx, &counts.OldPairs, `
		SELECT COUNT(*) FROM pairs
		WHERE pair_created_at_ms IS NOT NULL
		  AND pair_created_at_ms > 0
		  AND pair_created_at_ms < ?`, cutoffMS); err != nil {
		return counts, fmt.Errorf("failed to count old pairs: %w", err)
	}

	if err := s.db.GetContext(ctx, &counts.OldPairSnapshots, `
		SELECT COUNT(*) FROM snapshots s
		WHERE EXISTS (
			SELECT 1 FROM pairs p
			WHERE p.pair_address = s.pair_address
			  AND p.pair_created_at_ms IS NOT NULL
			  AND p.pair_created_at_ms > 0
			  AND p.pair_created_at_ms < ?
		)`, cutoffMS); err != nil {
		return counts, fmt.Errorf("failed to count old-pair snapshots: %w", err)
	}

	if err := s.db.GetContext(ctx, &counts.OrphanTokens, `
		SELECT COUNT(*) FROM tokens t
		WHERE NOT EXISTS (
			SELECT 1 FROM pairs p
			WHERE p.base_address = t.address OR p.quote_address = t.address
		)`); err != nil {
		return counts, fmt.Errorf("failed to count orphan tokens: %w", err)
	}

	return counts, nil
}

// OK reports whether all invariants hold.
func (c InvariantCounts) OK() bool {
	return c.OldPairs == 0 && c.OldPairSnapshots == 0 && c.OrphanTokens == 0
}

// PruneDumpWatchlist removes entries whose updated_at_ms is past the TTL and
// entries whose pair no longer exists. Returns rows removed.
func (s *Store) PruneDumpWatchlist(ctx context.Context, ttlHours float64) (int64, error) {
	cutoffMS := nowMS() - int64(ttlHours*3600*1000)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dump_watchlist WHERE updated_at_ms < ?`, cutoffMS)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dump watchlist by TTL: %w", err)
	}
	ttlCount, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM dump_watchlist
		WHERE NOT EXISTS (
			SELECT 1 FROM pairs p
			WHERE p.pair_address = dump_watchlist.pair_address
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orphan dump watchlist entries: %w", err)
	}
	orphanCount, _ := res.RowsAffected()

	return ttlCount + orphanCount, nil
}
