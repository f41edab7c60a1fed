package agent

import (
	"time"
)

// StepStatus is the lifecycle state of a plan step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// SessionStatus is the state of the engine's state machine for one goal.
type SessionStatus string

const (
	StatusIdle        SessionStatus = "idle"
	StatusPlanning    SessionStatus = "planning"
	StatusExecuting   SessionStatus = "executing"
	StatusEvaluating  SessionStatus = "evaluating"
	StatusGoalReached SessionStatus = "goal_reached"
	StatusGoalFailed  SessionStatus = "goal_failed"
	StatusAborted     SessionStatus = "aborted"
)

// Terminal reports whether no further transition can happen from s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusGoalReached, StatusGoalFailed, StatusAborted:
		return true
	}
	return false
}

// PlanStep is one unit of planned work. An empty Capability means the step
// is answered by a direct model query.
type PlanStep struct {
	Index       int            `json:"index"`
	Description string         `json:"description"`
	Capability  string         `json:"capability,omitempty"`
	Params      map[string]any `json:"params"`
	Rationale   string         `json:"rationale,omitempty"`
	Status      StepStatus     `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Retries     int            `json:"retries"`
}

// retried returns the fresh step that replaces s at the same index.
func (s *PlanStep) retried(hint string) *PlanStep {
	rationale := s.Rationale
	if hint != "" {
		rationale = hint
	}
	return &PlanStep{
		Index:       s.Index,
		Description: s.Description,
		Capability:  s.Capability,
		Params:      s.Params,
		Rationale:   rationale,
		Status:      StepPending,
		Retries:     s.Retries,
	}
}

// HistoryEntry records one step attempt. Params are the resolved values the
// capability actually received.
type HistoryEntry struct {
	Index       int            `json:"index"`
	Description string         `json:"description"`
	Capability  string         `json:"capability,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Result      string         `json:"result"`
	Error       string         `json:"error,omitempty"`
	Iteration   int            `json:"iteration"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Session is one end-to-end run of the engine against a single goal.
type Session struct {
	ID         string         `json:"id"`
	GoalID     string         `json:"goal_id,omitempty"`
	Goal       string         `json:"goal"`
	Understood string         `json:"goal_understood,omitempty"`
	Plan       []*PlanStep    `json:"plan"`
	History    []HistoryEntry `json:"history"`
	Status     SessionStatus  `json:"status"`
	Iteration  int            `json:"iteration"`
	Score      *float64       `json:"score,omitempty"`
	Summary    string         `json:"summary"`
	Replans    int            `json:"replans"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`

	// Err is the cause of a goal_failed or aborted outcome, if any.
	Err error `json:"-"`
}

// Snapshot is the read-only status surface polled by the dashboard and the
// gateways.
type Snapshot struct {
	SessionID     string         `json:"session_id,omitempty"`
	Status        SessionStatus  `json:"status"`
	Goal          string         `json:"goal,omitempty"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Score         *float64       `json:"score,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	History       []HistoryEntry `json:"history"`
}

func (s *Session) snapshot(maxIterations int) Snapshot {
	snap := Snapshot{
		SessionID:     s.ID,
		Status:        s.Status,
		Goal:          s.Goal,
		Iteration:     s.Iteration,
		MaxIterations: maxIterations,
		Summary:       s.Summary,
		History:       append([]HistoryEntry(nil), s.History...),
	}
	if s.Score != nil {
		score := *s.Score
		snap.Score = &score
	}
	return snap
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
