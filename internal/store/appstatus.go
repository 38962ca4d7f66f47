package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AppStatus is the single heartbeat row (id = 1) maintained by the
// long-running collector.
type AppStatus struct {
	UpdatedAtMS    int64   `db:"updated_at_ms"`
	CycleStartedMS *int64  `db:"last_cycle_started_at_ms"`
	CycleDoneMS    *int64  `db:"last_cycle_finished_at_ms"`
	LastError      *string `db:"last_error"`
	LastErrorAtMS  *int64  `db:"last_error_at_ms"`
	CountersJSON   *string `db:"counters_json"`
}

// StatusUpdate is a partial update: nil fields are left untouched.
type StatusUpdate struct {
	CycleStartedMS *int64
	CycleDoneMS    *int64
	LastError      *string
	LastErrorAtMS  *int64
	CountersJSON   *string
}

// UpdateAppStatus upserts the heartbeat row, touching updated_at_ms and
// only the fields present in the update.
func (s *Store) UpdateAppStatus(ctx context.Context, u StatusUpdate) error {
	cols := []string{"id", "updated_at_ms"}
	args := []any{1, nowMS()}
	sets := []string{"updated_at_ms = excluded.updated_at_ms"}

	add := func(col string, val any) {
		cols = append(cols, col)
		args = append(args, val)
		sets = append(sets, col+" = excluded."+col)
	}
	if u.CycleStartedMS != nil {
		add("last_cycle_started_at_ms", *u.CycleStartedMS)
	}
	if u.CycleDoneMS != nil {
		add("last_cycle_finished_at_ms", *u.CycleDoneMS)
	}
	if u.LastError != nil {
		add("last_error", *u.LastError)
	}
	if u.LastErrorAtMS != nil {
		add("last_error_at_ms", *u.LastErrorAtMS)
	}
	if u.CountersJSON != nil {
		add("counters_json", *u.CountersJSON)
	}

	query := fmt.Sprintf(
		`INSERT INTO app_status (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s`,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update app status: %w", err)
	}
	return nil
}

// GetAppStatus returns the heartbeat row, or nil if none was ever written.
func (s *Store) GetAppStatus(ctx context.Context) (*AppStatus, error) {
	var st AppStatus
	err := s.db.GetContext(ctx, &st, `
		SELECT updated_at_ms, last_cycle_started_at_ms, last_cycle_finished_at_ms,
		       last_error, last_error_at_ms, counters_json
		FROM app_status WHERE id = 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read app status: %w", err)
	}
	return &st, nil
}
