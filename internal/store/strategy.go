package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Evaluation statuses shared by horizon and trigger evaluations.
const (
	EvalPending = "PENDING"
	EvalDone    = "DONE"
	EvalNoData  = "NO_DATA"
)

// Trigger outcomes.
const (
	OutcomeTP1First = "TP1_FIRST"
	OutcomeSLFirst  = "SL_FIRST"
	OutcomeNeither  = "NEITHER"
)

// Decision recorded by the screener for a pair.
type Decision struct {
	PairAddress  string
	Decision     string
	CurrentPrice *float64
	ATHPrice     *float64
	DropFromATH  *float64
	Reasons      map[string]any
}

// InsertStrategyDecision appends an audit row and mirrors it into
// strategy_latest, in one transaction.
func (s *Store) InsertStrategyDecision(ctx context.Context, d Decision) error {
	var reasonsJSON *string
	if d.Reasons != nil {
		raw, err := json.Marshal(d.Reasons)
		if err != nil {
			return fmt.Errorf("failed to marshal decision reasons: %w", err)
		}
		str := string(raw)
		reasonsJSON = &str
	}
	decidedAt := nowMS()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin decision transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_decisions
		(pair_address, decided_at, decision, current_price, ath_price, drop_from_ath, reasons_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.PairAddress, decidedAt, d.Decision, d.CurrentPrice, d.ATHPrice, d.DropFromATH, reasonsJSON); err != nil {
		return fmt.Errorf("failed to insert strategy decision: %w", err)
	}

	// last_score mirrors drop_from_ath: the screener ranks by drawdown.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_latest
		(pair_address, last_decision, last_score, last_drop_from_ath, last_current_price, last_ath_price, last_decided_at, last_reasons_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_address) DO UPDATE SET
			last_decision = excluded.last_decision,
			last_score = excluded.last_score,
			last_drop_from_ath = excluded.last_drop_from_ath,
			last_current_price = excluded.last_current_price,
			last_ath_price = excluded.last_ath_price,
			last_decided_at = excluded.last_decided_at,
			last_reasons_json = excluded.last_reasons_json`,
		d.PairAddress, d.Decision, d.DropFromATH, d.DropFromATH, d.CurrentPrice, d.ATHPrice, decidedAt, reasonsJSON); err != nil {
		return fmt.Errorf("failed to upsert strategy latest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit strategy decision: %w", err)
	}
	return nil
}

// LastSignalAt returns the cooldown timestamp (unix ms) for a pair, or nil.
func (s *Store) LastSignalAt(ctx context.Context, pairAddress string) (*int64, error) {
	var ts int64
	err := s.db.GetContext(ctx, &ts,
		`SELECT last_signal_at FROM signal_cooldowns WHERE pair_address = ?`, pairAddress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signal cooldown for %s: %w", pairAddress, err)
	}
	return &ts, nil
}

// SetSignalCooldown stamps now as the last signal time for a pair.
func (s *Store) SetSignalCooldown(ctx context.Context, pairAddress string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO signal_cooldowns (pair_address, last_signal_at) VALUES (?, ?)`,
		pairAddress, nowMS())
	if err != nil {
		return fmt.Errorf("failed to set signal cooldown for %s: %w", pairAddress, err)
	}
	return nil
}

// SignalEvent is the record created at the moment a SIGNAL is classified.
type SignalEvent struct {
	ID          int64    `db:"id"`
	PairAddress string   `db:"pair_address"`
	SignalTS    int64    `db:"signal_ts"`
	EntryPrice  float64  `db:"entry_price"`
	ATHPrice    float64  `db:"ath_price"`
	DropFromATH float64  `db:"drop_from_ath"`
	Score       float64  `db:"score"`
	Features    map[string]any
}

// EnrollSignal inserts the signal event, a PENDING trigger evaluation, and
// one PENDING horizon evaluation per horizon, atomically. Returns the new
// signal id.
func (s *Store) EnrollSignal(ctx context.Context, ev SignalEvent, horizonsSec []int64) (int64, error) {
	var featuresJSON *string
	if ev.Features != nil {
		raw, err := json.Marshal(ev.Features)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal signal features: %w", err)
		}
		str := string(raw)
		featuresJSON = &str
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin signal transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO signal_events (pair_address, signal_ts, entry_price, ath_price, drop_from_ath, score, features_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.PairAddress, ev.SignalTS, ev.EntryPrice, ev.ATHPrice, ev.DropFromATH, ev.Score, featuresJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signal event: %w", err)
	}
	signalID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read signal id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO signal_trigger_evaluations (signal_id, status)
		VALUES (?, 'PENDING')
		ON CONFLICT(signal_id) DO NOTHING`, signalID); err != nil {
		return 0, fmt.Errorf("failed to enqueue trigger evaluation: %w", err)
	}

	for _, horizon := range horizonsSec {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signal_evaluations (signal_id, horizon_sec, status)
			VALUES (?, ?, 'PENDING')`, signalID, horizon); err != nil {
			return 0, fmt.Errorf("failed to enqueue horizon evaluation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit signal enrollment: %w", err)
	}
	return signalID, nil
}

// PendingEvaluation joins a due PENDING horizon evaluation with its signal.
type PendingEvaluation struct {
	EvalID      int64   `db:"eval_id"`
	SignalID    int64   `db:"signal_id"`
	HorizonSec  int64   `db:"horizon_sec"`
	PairAddress string  `db:"pair_address"`
	SignalTS    int64   `db:"signal_ts"`
	EntryPrice  float64 `db:"entry_price"`
}

// PendingEvaluations returns PENDING horizon evaluations whose horizon has
// elapsed by nowTS (unix ms). Horizon arithmetic follows the signal_ts unit.
func (s *Store) PendingEvaluations(ctx context.Context, nowTS int64) ([]PendingEvaluation, error) {
	var all []PendingEvaluation
	err := s.db.SelectContext(ctx, &all, `
		SELECT e.id AS eval_id, e.signal_id, e.horizon_sec, s.pair_address, s.signal_ts, s.entry_price
		FROM signal_evaluations e
		JOIN signal_events s ON s.id = e.signal_id
		WHERE e.status = 'PENDING'`)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending evaluations: %w", err)
	}

	due := all[:0]
	for _, ev := range all {
		horizon := ev.HorizonSec
		if ev.SignalTS > msThreshold {
			horizon *= 1000
		}
		if nowTS >= ev.SignalTS+horizon {
			due = append(due, ev)
		}
	}
	return due, nil
}

// UpdateEvaluationDone marks a horizon evaluation DONE with its metrics.
func (s *Store) UpdateEvaluationDone(ctx context.Context, evalID, evaluatedAt int64,
	priceEnd, maxPrice, minPrice, returnEndPct, maxReturnPct, minReturnPct float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signal_evaluations SET
			evaluated_at = ?, price_end = ?, max_price = ?, min_price = ?,
			return_end_pct = ?, max_return_pct = ?, min_return_pct = ?,
			status = 'DONE'
		WHERE id = ?`,
		evaluatedAt, priceEnd, maxPrice, minPrice, returnEndPct, maxReturnPct, minReturnPct, evalID)
	if err != nil {
		return fmt.Errorf("failed to mark evaluation %d done: %w", evalID, err)
	}
	return nil
}

// UpdateEvaluationNoData marks a horizon evaluation NO_DATA.
func (s *Store) UpdateEvaluationNoData(ctx context.Context, evalID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signal_evaluations SET status = 'NO_DATA' WHERE id = ?`, evalID)
	if err != nil {
		return fmt.Errorf("failed to mark evaluation %d no-data: %w", evalID, err)
	}
	return nil
}

// PendingTriggerEval joins a PENDING trigger evaluation with its signal.
type PendingTriggerEval struct {
	SignalID    int64   `db:"signal_id"`
	PairAddress string  `db:"pair_address"`
	SignalTS    int64   `db:"signal_ts"`
	EntryPrice  float64 `db:"entry_price"`
}

// PendingTriggerEvals returns up to limit PENDING trigger evaluations in
// signal-id order.
func (s *Store) PendingTriggerEvals(ctx context.Context, limit int) ([]PendingTriggerEval, error) {
	if limit < 1 {
		limit = 1
	}
	var evals []PendingTriggerEval
	err := s.db.SelectContext(ctx, &evals, `
		SELECT t.signal_id, s.pair_address, s.signal_ts, s.entry_price
		FROM signal_trigger_evaluations t
		JOIN signal_events s ON s.id = t.signal_id
		WHERE t.status = 'PENDING'
		ORDER BY t.signal_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending trigger evaluations: %w", err)
	}
	return evals, nil
}

// TriggerResult is the full DONE payload for a trigger evaluation.
type TriggerResult struct {
	SignalID      int64
	EvaluatedAt   int64
	Outcome       string
	TP1HitTS      *int64
	SLHitTS       *int64
	TP1Price      *float64
	SLPrice       *float64
	MFEPct        *float64
	MAEPct        *float64
	MaxPrice      *float64
	MinPrice      *float64
	BUHitAfterTP1 *int64
	PostTP1MaxPct *float64
	PostTP1MaxPx  *float64
}

// UpdateTriggerEvalDone marks a trigger evaluation DONE with its payload.
func (s *Store) UpdateTriggerEvalDone(ctx context.Context, r TriggerResult) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signal_trigger_evaluations SET
			evaluated_at = ?, status = 'DONE', outcome = ?,
			tp1_hit_ts = ?, sl_hit_ts = ?, tp1_price = ?, sl_price = ?,
			mfe_pct = ?, mae_pct = ?, max_price = ?, min_price = ?,
			bu_hit_after_tp1 = ?, post_tp1_max_pct = ?, post_tp1_max_price = ?
		WHERE signal_id = ?`,
		r.EvaluatedAt, r.Outcome,
		r.TP1HitTS, r.SLHitTS, r.TP1Price, r.SLPrice,
		r.MFEPct, r.MAEPct, r.MaxPrice, r.MinPrice,
		r.BUHitAfterTP1, r.PostTP1MaxPct, r.PostTP1MaxPx,
		r.SignalID)
	if err != nil {
		return fmt.Errorf("failed to mark trigger eval %d done: %w", r.SignalID, err)
	}
	return nil
}

// UpdateTriggerEvalNoData marks a trigger evaluation NO_DATA.
func (s *Store) UpdateTriggerEvalNoData(ctx context.Context, signalID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE signal_trigger_evaluations SET status = 'NO_DATA', evaluated_at = ? WHERE signal_id = ?`,
		nowMS(), signalID)
	if err != nil {
		return fmt.Errorf("failed to mark trigger eval %d no-data: %w", signalID, err)
	}
	return nil
}

// TriggerEvalRow reads back a trigger evaluation, mostly for tests and the
// analyze summary.
type TriggerEvalRow struct {
	SignalID      int64    `db:"signal_id"`
	Status        string   `db:"status"`
	Outcome       *string  `db:"outcome"`
	TP1HitTS      *int64   `db:"tp1_hit_ts"`
	SLHitTS       *int64   `db:"sl_hit_ts"`
	TP1Price      *float64 `db:"tp1_price"`
	SLPrice       *float64 `db:"sl_price"`
	MFEPct        *float64 `db:"mfe_pct"`
	MAEPct        *float64 `db:"mae_pct"`
	MaxPrice      *float64 `db:"max_price"`
	MinPrice      *float64 `db:"min_price"`
	BUHitAfterTP1 *int64   `db:"bu_hit_after_tp1"`
	PostTP1MaxPct *float64 `db:"post_tp1_max_pct"`
	PostTP1MaxPx  *float64 `db:"post_tp1_max_price"`
}

// GetTriggerEval returns the trigger evaluation for a signal, or nil.
func (s *Store) GetTriggerEval(ctx context.Context, signalID int64) (*TriggerEvalRow, error) {
	var row TriggerEvalRow
	err := s.db.GetContext(ctx, &row, `
		SELECT signal_id, status, outcome, tp1_hit_ts, sl_hit_ts, tp1_price, sl_price,
		       mfe_pct, mae_pct, max_price, min_price,
		       bu_hit_after_tp1, post_tp1_max_pct, post_tp1_max_price
		FROM signal_trigger_evaluations WHERE signal_id = ?`, signalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trigger eval %d: %w", signalID, err)
	}
	return &row, nil
}

// EvaluationRow reads back a horizon evaluation.
type EvaluationRow struct {
	ID           int64    `db:"id"`
	SignalID     int64    `db:"signal_id"`
	HorizonSec   int64    `db:"horizon_sec"`
	Status       string   `db:"status"`
	PriceEnd     *float64 `db:"price_end"`
	MaxPrice     *float64 `db:"max_price"`
	MinPrice     *float64 `db:"min_price"`
	ReturnEndPct *float64 `db:"return_end_pct"`
	MaxReturnPct *float64 `db:"max_return_pct"`
	MinReturnPct *float64 `db:"min_return_pct"`
}

// EvaluationsForSignal returns all horizon evaluations for a signal.
func (s *Store) EvaluationsForSignal(ctx context.Context, signalID int64) ([]EvaluationRow, error) {
	var rows []EvaluationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, signal_id, horizon_sec, status, price_end, max_price, min_price,
		       return_end_pct, max_return_pct, min_return_pct
		FROM signal_evaluations WHERE signal_id = ? ORDER BY horizon_sec ASC`, signalID)
	if err != nil {
		return nil, fmt.Errorf("failed to read evaluations for signal %d: %w", signalID, err)
	}
	return rows, nil
}
