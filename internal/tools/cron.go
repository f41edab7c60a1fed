package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/store"
)

const minScheduleInterval = 60

// ScheduleStore persists recurring goals.
type ScheduleStore interface {
	AddSchedule(origin, goal string, intervalSeconds int) (int64, error)
	ListSchedules(origin string) ([]store.Schedule, error)
	ClearSchedules(origin string) (int64, error)
}

// ScheduleTool lets a goal register follow-up goals for its origin.
type ScheduleTool struct {
	Store ScheduleStore
}

func NewScheduleTool(s ScheduleStore) *ScheduleTool {
	return &ScheduleTool{Store: s}
}

func (c *ScheduleTool) Name() string {
	return "schedule_goal"
}

func (c *ScheduleTool) Description() string {
	return "Manage recurring goals: schedule a new one, list current ones, or clear them all."
}

func (c *ScheduleTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "action", Description: "schedule, list or clear", Required: true},
		{Name: "goal", Description: "what the agent should do (schedule only)", Default: ""},
		{Name: "interval_seconds", Type: "int", Description: "repeat interval, minimum 60; 0 runs once", Default: 0},
	}
}

func (c *ScheduleTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	origin := capability.OriginFrom(ctx)
	interval, err := intParam(params, "interval_seconds", 0)
	if err != nil {
		return capability.Result{}, err
	}

	switch capability.StringParam(params, "action") {
	case "clear":
		n, err := c.Store.ClearSchedules(origin)
		if err != nil {
			return capability.Result{}, fmt.Errorf("failed to clear schedules: %w", err)
		}
		return text(fmt.Sprintf("Cleared %d scheduled goal(s).", n)), nil

	case "list":
		list, err := c.Store.ListSchedules(origin)
		if err != nil {
			return capability.Result{}, fmt.Errorf("failed to list schedules: %w", err)
		}
		if len(list) == 0 {
			return text("No scheduled goals."), nil
		}
		var b strings.Builder
		for _, s := range list {
			fmt.Fprintf(&b, "#%d every %ds: %s\n", s.ID, s.IntervalSeconds, s.Goal)
		}
		return text(strings.TrimRight(b.String(), "\n")), nil

	case "schedule":
		goal := strings.TrimSpace(capability.StringParam(params, "goal"))
		if goal == "" {
			return capability.Result{}, fmt.Errorf("goal is required for schedule")
		}
		if interval != 0 && interval < minScheduleInterval {
			return capability.Result{}, fmt.Errorf("minimum interval is %d seconds", minScheduleInterval)
		}
		id, err := c.Store.AddSchedule(origin, goal, interval)
		if err != nil {
			return capability.Result{}, fmt.Errorf("failed to schedule goal: %w", err)
		}
		if interval == 0 {
			return text(fmt.Sprintf("Scheduled goal #%d to run once: '%s'", id, goal)), nil
		}
		return text(fmt.Sprintf("Scheduled goal #%d: '%s' every %d seconds.", id, goal, interval)), nil

	default:
		return capability.Result{}, fmt.Errorf("invalid action, use schedule, list or clear")
	}
}
