package agent

import (
	"context"
	"log"
	"time"

	"github.com/rahul/autopilot/internal/backlog"
	"github.com/rahul/autopilot/internal/store"
)

// ScheduledPriority is the priority of goals enqueued from a schedule.
const ScheduledPriority = 7

// ScheduleStore is the part of the history store the scheduler polls.
type ScheduleStore interface {
	DueSchedules() ([]store.Schedule, error)
	MarkScheduleRun(id int64) error
	DeleteSchedule(id int64) error
}

// GoalQueue accepts goals for later execution.
type GoalQueue interface {
	Enqueue(goals ...*backlog.Goal) error
}

// Scheduler turns due recurring goals into backlog entries.
type Scheduler struct {
	Store    ScheduleStore
	Queue    GoalQueue
	Interval time.Duration
}

func NewScheduler(st ScheduleStore, queue GoalQueue) *Scheduler {
	return &Scheduler{
		Store:    st,
		Queue:    queue,
		Interval: 30 * time.Second,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("[Scheduler] Recurring goal scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll enqueues every due schedule once and returns how many were queued.
func (s *Scheduler) Poll() int {
	due, err := s.Store.DueSchedules()
	if err != nil {
		log.Printf("[Scheduler] Error polling schedules: %v", err)
		return 0
	}

	queued := 0
	for _, sch := range due {
		log.Printf("[Scheduler] Schedule %d for %s is due: %s", sch.ID, sch.Origin, sch.Goal)

		g := &backlog.Goal{
			Goal:      sch.Goal,
			Category:  backlog.CategoryExternal,
			Priority:  ScheduledPriority,
			Reasoning: "Recurring goal scheduled via " + sch.Origin,
		}
		if err := s.Queue.Enqueue(g); err != nil {
			log.Printf("[Scheduler] Error enqueueing schedule %d: %v", sch.ID, err)
			continue
		}
		queued++

		if err := s.Store.MarkScheduleRun(sch.ID); err != nil {
			log.Printf("[Scheduler] Error updating last run for schedule %d: %v", sch.ID, err)
		}

		// one-time schedules are removed after their single run
		if sch.IntervalSeconds == 0 {
			if err := s.Store.DeleteSchedule(sch.ID); err != nil {
				log.Printf("[Scheduler] Error deleting one-time schedule %d: %v", sch.ID, err)
			}
		}
	}
	return queued
}
