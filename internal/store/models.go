package store

import "time"

// SessionRecord is one finished goal session as archived in sqlite.
type SessionRecord struct {
	ID         string
	Goal       string
	GoalID     string
	Status     string
	Iteration  int
	Replans    int
	Score      *float64
	Summary    string
	StartedAt  time.Time
	FinishedAt time.Time
	History    []HistoryRow
}

// HistoryRow is one step attempt of an archived session.
type HistoryRow struct {
	Iteration  int
	StepIndex  int
	Capability string
	Params     string // JSON
	Result     string
	Error      string
	Timestamp  time.Time
}

// Schedule is a recurring goal. An interval of zero runs once.
type Schedule struct {
	ID              int64
	Origin          string
	Goal            string
	IntervalSeconds int
	LastRun         string
}
