package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	h, err := NewHistoryStore(filepath.Join(t.TempDir(), "db", "test.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSaveSession_RoundTrip(t *testing.T) {
	h := newTestStore(t)
	score := 8.5
	start := time.Now().Add(-time.Minute).UTC()
	rec := SessionRecord{
		ID:         "s1",
		Goal:       "write a note",
		GoalID:     "g1",
		Status:     "goal_reached",
		Iteration:  2,
		Score:      &score,
		Summary:    "done",
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		History: []HistoryRow{
			{Iteration: 1, StepIndex: 0, Capability: "filesystem", Params: `{"path":"a"}`, Result: "ok", Timestamp: start},
			{Iteration: 2, StepIndex: 1, Result: "answer", Timestamp: start},
		},
	}
	if err := h.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	// saving again replaces rather than duplicates
	if err := h.SaveSession(rec); err != nil {
		t.Fatalf("SaveSession (again) failed: %v", err)
	}

	sessions, err := h.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.Status != "goal_reached" || got.Score == nil || *got.Score != 8.5 {
		t.Errorf("unexpected session: %+v", got)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("started_at mismatch: %v vs %v", got.StartedAt, start)
	}

	rows, err := h.GetSessionHistory("s1")
	if err != nil {
		t.Fatalf("GetSessionHistory failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Capability != "filesystem" || rows[1].Result != "answer" {
		t.Errorf("unexpected history: %+v", rows)
	}
}

func TestSchedules(t *testing.T) {
	h := newTestStore(t)

	id, err := h.AddSchedule("telegram:42", "summarise the news", 3600)
	if err != nil {
		t.Fatalf("AddSchedule failed: %v", err)
	}
	if _, err := h.AddSchedule("discord:7", "check disk", 60); err != nil {
		t.Fatalf("AddSchedule failed: %v", err)
	}

	due, err := h.DueSchedules()
	if err != nil {
		t.Fatalf("DueSchedules failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due schedules, got %d", len(due))
	}

	if err := h.MarkScheduleRun(id); err != nil {
		t.Fatalf("MarkScheduleRun failed: %v", err)
	}
	due, _ = h.DueSchedules()
	if len(due) != 1 || due[0].Origin != "discord:7" {
		t.Errorf("expected only discord schedule due, got %+v", due)
	}

	list, _ := h.ListSchedules("telegram:42")
	if len(list) != 1 || list[0].Goal != "summarise the news" {
		t.Errorf("unexpected list: %+v", list)
	}

	n, err := h.ClearSchedules("telegram:42")
	if err != nil || n != 1 {
		t.Errorf("ClearSchedules: n=%d err=%v", n, err)
	}
	if err := h.DeleteSchedule(due[0].ID); err != nil {
		t.Fatalf("DeleteSchedule failed: %v", err)
	}
	due, _ = h.DueSchedules()
	if len(due) != 0 {
		t.Errorf("expected no schedules left, got %+v", due)
	}
}
