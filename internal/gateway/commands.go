package gateway

import (
	"context"
	"fmt"
	"strings"
)

const helpText = `Commands:
%[1]sgoal <text>  queue a goal (plain messages are queued too)
%[1]sstatus       current run
%[1]sstats        totals since start
%[1]sabort        stop the current run`

// HandleCommand interprets one chat message and returns the reply. prefix is
// the platform's command marker ("/" or "!").
func HandleCommand(ctx context.Context, ctrl Controller, prefix, origin, message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return ""
	}
	if !strings.HasPrefix(message, prefix) {
		return submit(ctx, ctrl, origin, message)
	}

	cmd, rest, _ := strings.Cut(strings.TrimPrefix(message, prefix), " ")
	// Telegram appends @botname in groups
	cmd, _, _ = strings.Cut(cmd, "@")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "goal":
		if rest == "" {
			return fmt.Sprintf("Usage: %sgoal <what to achieve>", prefix)
		}
		return submit(ctx, ctrl, origin, rest)
	case "status":
		return ctrl.StatusText()
	case "stats":
		return ctrl.StatsText()
	case "abort", "stop":
		ctrl.Abort()
		return "Abort requested."
	default:
		return fmt.Sprintf(helpText, prefix)
	}
}

func submit(ctx context.Context, ctrl Controller, origin, goal string) string {
	id, err := ctrl.SubmitGoal(ctx, goal, origin)
	if err != nil {
		return fmt.Sprintf("Could not queue goal: %v", err)
	}
	return fmt.Sprintf("Goal queued (%s). You will be notified when it finishes.", shortID(id))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
