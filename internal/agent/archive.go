package agent

import (
	"encoding/json"

	"github.com/rahul/autopilot/internal/store"
)

// Archive persists finished sessions into the sqlite history store.
type Archive struct {
	Store *store.HistoryStore
}

func NewArchive(h *store.HistoryStore) *Archive {
	return &Archive{Store: h}
}

func (a *Archive) RecordSession(s *Session) error {
	return a.Store.SaveSession(ToRecord(s))
}

// ToRecord flattens a session into its archived form.
func ToRecord(s *Session) store.SessionRecord {
	rec := store.SessionRecord{
		ID:         s.ID,
		Goal:       s.Goal,
		GoalID:     s.GoalID,
		Status:     string(s.Status),
		Iteration:  s.Iteration,
		Replans:    s.Replans,
		Score:      s.Score,
		Summary:    s.Summary,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	for _, h := range s.History {
		params := "{}"
		if len(h.Params) > 0 {
			if data, err := json.Marshal(h.Params); err == nil {
				params = string(data)
			}
		}
		rec.History = append(rec.History, store.HistoryRow{
			Iteration:  h.Iteration,
			StepIndex:  h.Index,
			Capability: h.Capability,
			Params:     params,
			Result:     h.Result,
			Error:      h.Error,
			Timestamp:  h.Timestamp,
		})
	}
	return rec
}
