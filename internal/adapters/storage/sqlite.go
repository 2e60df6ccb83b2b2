package storage

// Registro de auditoría en SQLite.
//
//   - `placements`: una fila por intento de colocación terminado, con el
//     outcome tipado, las órdenes y los fills verificados.
//   - `placement_transitions`: las transiciones de la máquina de estados de
//     cada intento, en orden.
//   - `daily_risk`: los días de trading cerrados que el risk monitor mueve a
//     su historial (UPSERT por día).
//   - Prune automático al arrancar: placements > 90d.
//
// Los instantes se guardan como unix millis: comparables en SQL y sin
// ambigüedad de formato al leer.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS placements (
    id              TEXT PRIMARY KEY,
    market_id       TEXT    NOT NULL,
    outcome         TEXT    NOT NULL,
    class           TEXT    NOT NULL DEFAULT '',
    state           TEXT    NOT NULL,
    reason          TEXT    NOT NULL DEFAULT '',
    yes_token       TEXT    NOT NULL DEFAULT '',
    no_token        TEXT    NOT NULL DEFAULT '',
    size            REAL    NOT NULL,
    yes_price       REAL    NOT NULL,
    no_price        REAL    NOT NULL,
    yes_order       TEXT    NOT NULL DEFAULT '',
    no_order        TEXT    NOT NULL DEFAULT '',
    yes_filled      REAL    NOT NULL DEFAULT 0,
    no_filled       REAL    NOT NULL DEFAULT 0,
    delta           REAL    NOT NULL DEFAULT 0,
    yes_cancel_err  TEXT    NOT NULL DEFAULT '',
    no_cancel_err   TEXT    NOT NULL DEFAULT '',
    started_at      INTEGER NOT NULL,
    elapsed_ms      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS placement_transitions (
    placement_id TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    from_state   TEXT    NOT NULL,
    to_state     TEXT    NOT NULL,
    at           INTEGER NOT NULL,
    PRIMARY KEY (placement_id, seq)
);

CREATE TABLE IF NOT EXISTS daily_risk (
    day                TEXT PRIMARY KEY,
    pnl                TEXT    NOT NULL,
    execution_failures INTEGER NOT NULL DEFAULT 0,
    halted             INTEGER NOT NULL DEFAULT 0,
    halt_reason        TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_placements_started ON placements(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_placements_market  ON placements(market_id);
`

const retentionPlacements = 90 * 24 * time.Hour

// SQLiteStorage implementa ports.PlacementStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SavePlacement persiste un resultado terminal y sus transiciones en una
// sola transacción. Reescribir el mismo ID reemplaza la fila.
func (s *SQLiteStorage) SavePlacement(ctx context.Context, r domain.PlacementResult) error {
	if r.ID == "" {
		return fmt.Errorf("storage.SavePlacement: empty placement id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePlacement: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO placements
			(id, market_id, outcome, class, state, reason, yes_token, no_token,
			 size, yes_price, no_price, yes_order, no_order, yes_filled, no_filled,
			 delta, yes_cancel_err, no_cancel_err, started_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.Request.MarketID,
		string(r.Outcome),
		string(r.Class()),
		string(r.State),
		r.Reason,
		r.Request.YesToken,
		r.Request.NoToken,
		r.Request.Size,
		r.Request.YesPrice,
		r.Request.NoPrice,
		r.YesOrder,
		r.NoOrder,
		r.YesFilled,
		r.NoFilled,
		r.Delta,
		r.YesCancelErr,
		r.NoCancelErr,
		r.StartedAt.UnixMilli(),
		r.Elapsed.Milliseconds(),
	); err != nil {
		return fmt.Errorf("storage.SavePlacement: insert %s: %w", r.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM placement_transitions WHERE placement_id = ?`, r.ID); err != nil {
		return fmt.Errorf("storage.SavePlacement: clear transitions: %w", err)
	}
	if len(r.Transitions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO placement_transitions (placement_id, seq, from_state, to_state, at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("storage.SavePlacement: prepare: %w", err)
		}
		defer stmt.Close()
		for i, tr := range r.Transitions {
			if _, err := stmt.ExecContext(ctx, r.ID, i, string(tr.From), string(tr.To), tr.At.UnixMilli()); err != nil {
				return fmt.Errorf("storage.SavePlacement: insert transition %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SavePlacement: commit: %w", err)
	}
	return nil
}

// ListPlacements devuelve los intentos iniciados en [from, to], más recientes
// primero, con sus transiciones.
func (s *SQLiteStorage) ListPlacements(ctx context.Context, from, to time.Time) ([]domain.PlacementResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, outcome, state, reason, yes_token, no_token,
		       size, yes_price, no_price, yes_order, no_order, yes_filled, no_filled,
		       delta, yes_cancel_err, no_cancel_err, started_at, elapsed_ms
		FROM placements
		WHERE started_at BETWEEN ? AND ?
		ORDER BY started_at DESC, id
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.ListPlacements: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PlacementResult
	index := make(map[string]int)
	for rows.Next() {
		var r domain.PlacementResult
		var outcome, state string
		var startedMs, elapsedMs int64
		if err := rows.Scan(
			&r.ID,
			&r.Request.MarketID,
			&outcome,
			&state,
			&r.Reason,
			&r.Request.YesToken,
			&r.Request.NoToken,
			&r.Request.Size,
			&r.Request.YesPrice,
			&r.Request.NoPrice,
			&r.YesOrder,
			&r.NoOrder,
			&r.YesFilled,
			&r.NoFilled,
			&r.Delta,
			&r.YesCancelErr,
			&r.NoCancelErr,
			&startedMs,
			&elapsedMs,
		); err != nil {
			return nil, fmt.Errorf("storage.ListPlacements: scan row: %w", err)
		}
		r.Outcome = domain.PlacementOutcome(outcome)
		r.State = domain.PlacementState(state)
		r.StartedAt = time.UnixMilli(startedMs).UTC()
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		index[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListPlacements: rows: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.loadTransitions(ctx, out, index, from, to); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStorage) loadTransitions(ctx context.Context, out []domain.PlacementResult, index map[string]int, from, to time.Time) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.placement_id, t.from_state, t.to_state, t.at
		FROM placement_transitions t
		JOIN placements p ON p.id = t.placement_id
		WHERE p.started_at BETWEEN ? AND ?
		ORDER BY t.placement_id, t.seq
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return fmt.Errorf("storage.ListPlacements: query transitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, fromState, toState string
		var atMs int64
		if err := rows.Scan(&id, &fromState, &toState, &atMs); err != nil {
			return fmt.Errorf("storage.ListPlacements: scan transition: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		out[i].Transitions = append(out[i].Transitions, domain.Transition{
			From: domain.PlacementState(fromState),
			To:   domain.PlacementState(toState),
			At:   time.UnixMilli(atMs).UTC(),
		})
	}
	return rows.Err()
}

// SaveDailyHistory hace upsert de los días cerrados del risk monitor.
func (s *SQLiteStorage) SaveDailyHistory(ctx context.Context, records []domain.DailyRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveDailyHistory: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_risk (day, pnl, execution_failures, halted, halt_reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			pnl                = excluded.pnl,
			execution_failures = excluded.execution_failures,
			halted             = excluded.halted,
			halt_reason        = excluded.halt_reason
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveDailyHistory: prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range records {
		halted := 0
		if d.Halted {
			halted = 1
		}
		if _, err := stmt.ExecContext(ctx, d.Day, d.PnL.String(), d.ExecutionFailures, halted, d.HaltReason); err != nil {
			return fmt.Errorf("storage.SaveDailyHistory: upsert %s: %w", d.Day, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveDailyHistory: commit: %w", err)
	}
	return nil
}

// ListDailyHistory devuelve los últimos limit días, el más antiguo primero.
func (s *SQLiteStorage) ListDailyHistory(ctx context.Context, limit int) ([]domain.DailyRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, pnl, execution_failures, halted, halt_reason
		FROM (SELECT * FROM daily_risk ORDER BY day DESC LIMIT ?)
		ORDER BY day ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListDailyHistory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyRecord
	for rows.Next() {
		var d domain.DailyRecord
		var pnl string
		var halted int
		if err := rows.Scan(&d.Day, &pnl, &d.ExecutionFailures, &halted, &d.HaltReason); err != nil {
			return nil, fmt.Errorf("storage.ListDailyHistory: scan row: %w", err)
		}
		d.PnL, err = decimal.NewFromString(pnl)
		if err != nil {
			return nil, fmt.Errorf("storage.ListDailyHistory: %s: pnl %q: %w", d.Day, pnl, err)
		}
		d.Halted = halted == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina intentos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionPlacements).UnixMilli()
	s.db.ExecContext(ctx, `DELETE FROM placement_transitions WHERE placement_id IN (SELECT id FROM placements WHERE started_at < ?)`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM placements WHERE started_at < ?`, cutoff)
}
