// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/verte-zerg/kickshield/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Settings keys.
const (
	keyThreshold      = "threshold"
	keyLockoutMs      = "lockout_ms"
	keySeriesGapMs    = "series_gap_ms"
	keySampleWindowMs = "sample_window_ms"
	keySimulate       = "simulate"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for settings and the session log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			hits INTEGER NOT NULL,
			max_series INTEGER NOT NULL,
			best_peak INTEGER NOT NULL,
			best_score INTEGER NOT NULL,
			tempo_hpm INTEGER NOT NULL,
			interval_p50_ms INTEGER NOT NULL,
			simulated INTEGER NOT NULL,
			timed_out INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadSettings reads the stored detection settings. Missing or unparsable
// keys fall back to defaults and every value is clamped.
func (s *Store) LoadSettings(ctx context.Context) (model.Settings, error) {
	cfg := model.DefaultSettings()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return cfg, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return cfg, err
		}
		switch key {
		case keyThreshold:
			setInt(&cfg.Threshold, value)
		case keyLockoutMs:
			setInt(&cfg.LockoutMs, value)
		case keySeriesGapMs:
			setInt(&cfg.SeriesGapMs, value)
		case keySampleWindowMs:
			setInt(&cfg.SampleWindowMs, value)
		case keySimulate:
			if b, err := strconv.ParseBool(value); err == nil {
				cfg.Simulate = b
			}
		}
	}
	if err := rows.Err(); err != nil {
		return cfg, err
	}
	return cfg.Clamp(), nil
}

func setInt(target *int, value string) {
	if v, err := strconv.Atoi(value); err == nil {
		*target = v
	}
}

// SaveSettings writes every settings key in one transaction.
func (s *Store) SaveSettings(ctx context.Context, cfg model.Settings) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	values := map[string]string{
		keyThreshold:      strconv.Itoa(cfg.Threshold),
		keyLockoutMs:      strconv.Itoa(cfg.LockoutMs),
		keySeriesGapMs:    strconv.Itoa(cfg.SeriesGapMs),
		keySampleWindowMs: strconv.Itoa(cfg.SampleWindowMs),
		keySimulate:       strconv.FormatBool(cfg.Simulate),
	}
	for key, value := range values {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertSession stores a completed session.
func (s *Store) InsertSession(ctx context.Context, rec model.SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, started_at, ended_at, duration_ms, hits, max_series, best_peak, best_score, tempo_hpm, interval_p50_ms, simulated, timed_out)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Mode,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.EndedAt.UTC().Format(timeLayout),
		rec.DurationMs,
		rec.Hits,
		rec.MaxSeries,
		rec.BestPeak,
		rec.BestScore,
		rec.TempoHPM,
		rec.IntervalP50Ms,
		boolInt(rec.Simulated),
		boolInt(rec.TimedOut),
	)
	return err
}

// ListSessions returns completed sessions oldest first, filtered by f.
func (s *Store) ListSessions(ctx context.Context, f model.HistoryFilter) ([]model.SessionRecord, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if f.Mode != "" {
		clauses = append(clauses, "mode = ?")
		args = append(args, strings.ToUpper(f.Mode))
	}
	if f.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	query := fmt.Sprintf(`SELECT id, mode, started_at, ended_at, duration_ms, hits, max_series, best_peak, best_score, tempo_hpm, interval_p50_ms, simulated, timed_out
		FROM sessions
		WHERE %s
		ORDER BY ended_at ASC`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []model.SessionRecord
	for rows.Next() {
		var rec model.SessionRecord
		var startedAt, endedAt string
		var simulated, timedOut int
		if err := rows.Scan(&rec.ID, &rec.Mode, &startedAt, &endedAt, &rec.DurationMs, &rec.Hits,
			&rec.MaxSeries, &rec.BestPeak, &rec.BestScore, &rec.TempoHPM, &rec.IntervalP50Ms,
			&simulated, &timedOut); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if rec.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
			return nil, err
		}
		rec.Simulated = simulated != 0
		rec.TimedOut = timedOut != 0
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Last > 0 && len(sessions) > f.Last {
		sessions = sessions[len(sessions)-f.Last:]
	}
	return sessions, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
