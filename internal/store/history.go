package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			goal TEXT,
			goal_id TEXT,
			status TEXT,
			iteration INTEGER,
			replans INTEGER,
			score REAL,
			summary TEXT,
			started_at TEXT,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS session_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			iteration INTEGER,
			step_index INTEGER,
			capability TEXT,
			params TEXT,
			result TEXT,
			error TEXT,
			timestamp TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			origin TEXT,
			goal TEXT,
			interval_seconds INTEGER,
			last_run DATETIME,
			status TEXT DEFAULT 'active'
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

// SaveSession archives a finished session and its history in one transaction.
func (h *HistoryStore) SaveSession(rec SessionRecord) error {
	tx, err := h.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var score sql.NullFloat64
	if rec.Score != nil {
		score = sql.NullFloat64{Float64: *rec.Score, Valid: true}
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO sessions
		(id, goal, goal_id, status, iteration, replans, score, summary, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Goal, rec.GoalID, rec.Status, rec.Iteration, rec.Replans, score, rec.Summary,
		rec.StartedAt.Format(time.RFC3339Nano), rec.FinishedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM session_history WHERE session_id = ?`, rec.ID); err != nil {
		return err
	}
	for _, row := range rec.History {
		_, err := tx.Exec(`INSERT INTO session_history
			(session_id, iteration, step_index, capability, params, result, error, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, row.Iteration, row.StepIndex, row.Capability, row.Params, row.Result, row.Error,
			row.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return tx.Commit()
}

// ListSessions returns the most recent sessions without their history.
func (h *HistoryStore) ListSessions(limit int) ([]SessionRecord, error) {
	rows, err := h.DB.Query(`SELECT id, goal, goal_id, status, iteration, replans, score, summary, started_at, finished_at
		FROM sessions ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var score sql.NullFloat64
		var started, finished string
		if err := rows.Scan(&rec.ID, &rec.Goal, &rec.GoalID, &rec.Status, &rec.Iteration, &rec.Replans,
			&score, &rec.Summary, &started, &finished); err != nil {
			return nil, err
		}
		if score.Valid {
			s := score.Float64
			rec.Score = &s
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSessionHistory returns the step attempts of a session in order.
func (h *HistoryStore) GetSessionHistory(sessionID string) ([]HistoryRow, error) {
	rows, err := h.DB.Query(`SELECT iteration, step_index, capability, params, result, error, timestamp
		FROM session_history WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var row HistoryRow
		var ts string
		if err := rows.Scan(&row.Iteration, &row.StepIndex, &row.Capability, &row.Params, &row.Result, &row.Error, &ts); err != nil {
			return nil, err
		}
		row.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (h *HistoryStore) AddSchedule(origin, goal string, intervalSeconds int) (int64, error) {
	query := `INSERT INTO schedules (origin, goal, interval_seconds, last_run) VALUES (?, ?, ?, datetime('now', '-365 days'))`
	res, err := h.DB.Exec(query, origin, goal, intervalSeconds)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DueSchedules returns active schedules whose interval has elapsed.
func (h *HistoryStore) DueSchedules() ([]Schedule, error) {
	return h.querySchedules(`
		SELECT id, origin, goal, interval_seconds, COALESCE(last_run, '')
		FROM schedules
		WHERE status = 'active'
		AND (last_run IS NULL OR (julianday('now') - julianday(last_run)) * 86400 >= interval_seconds)`)
}

func (h *HistoryStore) ListSchedules(origin string) ([]Schedule, error) {
	return h.querySchedules(`SELECT id, origin, goal, interval_seconds, COALESCE(last_run, '')
		FROM schedules WHERE status = 'active' AND origin = ? ORDER BY id`, origin)
}

func (h *HistoryStore) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := h.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.Origin, &s.Goal, &s.IntervalSeconds, &s.LastRun); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (h *HistoryStore) MarkScheduleRun(id int64) error {
	query := `UPDATE schedules SET last_run = datetime('now') WHERE id = ?`
	_, err := h.DB.Exec(query, id)
	return err
}

func (h *HistoryStore) DeleteSchedule(id int64) error {
	_, err := h.DB.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// ClearSchedules removes every schedule of origin and returns how many.
func (h *HistoryStore) ClearSchedules(origin string) (int64, error) {
	res, err := h.DB.Exec(`DELETE FROM schedules WHERE origin = ?`, origin)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
