package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02 15:04:05.000000000"

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id              INTEGER PRIMARY KEY,
  started_at      TEXT NOT NULL,
  stem            TEXT NOT NULL,
  phase           TEXT NOT NULL,
  frame_count     INTEGER NOT NULL,
  dry_run         INTEGER NOT NULL CHECK (dry_run IN (0,1)),
  solar_fallback  INTEGER NOT NULL CHECK (solar_fallback IN (0,1)),
  canonical       TEXT,
  hdr             TEXT,
  published       TEXT,
  synced          INTEGER NOT NULL CHECK (synced IN (0,1)),
  sync_error      TEXT,
  duration_ms     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS shots (
  id              INTEGER PRIMARY KEY,
  run_id          INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  tag             TEXT NOT NULL,
  exposure        INTEGER NOT NULL DEFAULT 0,
  frame_count     INTEGER NOT NULL,
  path            TEXT NOT NULL,
  success         INTEGER NOT NULL CHECK (success IN (0,1)),
  error           TEXT
);
CREATE INDEX IF NOT EXISTS idx_shots_run ON shots(run_id);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// RecordRun stores a run and its shots in one transaction and returns the run id.
func (d *DB) RecordRun(ctx context.Context, r Run) (id int64, err error) {
	if r.Stem == "" {
		return 0, errors.New("run without stem")
	}
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO runs(started_at, stem, phase, frame_count, dry_run, solar_fallback, canonical, hdr, published, synced, sync_error, duration_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.StartedAt.UTC().Format(timeLayout), r.Stem, r.Phase, r.FrameCount, boolToInt(r.DryRun), boolToInt(r.SolarFallback),
		nullIfEmpty(r.Canonical), nullIfEmpty(r.HDR), nullIfEmpty(strings.Join(r.Published, ",")),
		boolToInt(r.Synced), nullIfEmpty(r.SyncErr), r.DurationMS)
	if err != nil {
		return 0, err
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, err
	}

	for _, s := range r.Shots {
		_, err = tx.ExecContext(ctx, `INSERT INTO shots(run_id, tag, exposure, frame_count, path, success, error) VALUES(?,?,?,?,?,?,?)`,
			id, s.Tag, s.Exposure, s.FrameCount, s.Path, boolToInt(s.Success), nullIfEmpty(s.Error))
		if err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first, without their shots.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := "SELECT id, started_at, stem, phase, frame_count, dry_run, solar_fallback, canonical, hdr, published, synced, sync_error, duration_ms FROM runs ORDER BY started_at DESC, id DESC LIMIT ?"
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                                   Run
			startedAt                           string
			dryRun, fallback, synced            int
			canonical, hdr, published, syncErr sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedAt, &r.Stem, &r.Phase, &r.FrameCount, &dryRun, &fallback, &canonical, &hdr, &published, &synced, &syncErr, &r.DurationMS); err != nil {
			return nil, err
		}
		if t, err := time.Parse(timeLayout, startedAt); err == nil {
			r.StartedAt = t
		}
		r.DryRun = dryRun == 1
		r.SolarFallback = fallback == 1
		r.Synced = synced == 1
		r.Canonical = canonical.String
		r.HDR = hdr.String
		r.SyncErr = syncErr.String
		if published.Valid && published.String != "" {
			r.Published = strings.Split(published.String, ",")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListShots returns the shots of a run in capture order.
func (d *DB) ListShots(ctx context.Context, runID int64) ([]Shot, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT tag, exposure, frame_count, path, success, error FROM shots WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shots []Shot
	for rows.Next() {
		var s Shot
		var success int
		var errText sql.NullString
		if err := rows.Scan(&s.Tag, &s.Exposure, &s.FrameCount, &s.Path, &success, &errText); err != nil {
			return nil, err
		}
		s.Success = success == 1
		s.Error = errText.String
		shots = append(shots, s)
	}
	return shots, rows.Err()
}

// GetPhaseStats aggregates non-dry runs per phase.
func (d *DB) GetPhaseStats(ctx context.Context) ([]PhaseStats, error) {
	query := `
		SELECT
			r.phase,
			COUNT(DISTINCT r.id),
			COALESCE(SUM(CASE WHEN s.success = 0 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN r.synced = 0 AND r.sync_error IS NOT NULL THEN r.id END)
		FROM
			runs r LEFT JOIN shots s ON s.run_id = r.id
		WHERE
			r.dry_run = 0
		GROUP BY
			r.phase
		ORDER BY
			r.phase;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []PhaseStats
	for rows.Next() {
		var s PhaseStats
		if err := rows.Scan(&s.Phase, &s.Runs, &s.FailedShots, &s.SyncFailed); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (d *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM shots WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)", cutoff.UTC().Format(timeLayout)); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
