package agent

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/rahul/autopilot/internal/llm"
)

// Action is the evaluator's choice of what to do after a step.
type Action string

const (
	ActionContinue Action = "continue"
	ActionRetry    Action = "retry"
	ActionReplan   Action = "replan"
	ActionAbort    Action = "abort"
)

// Verdict is the evaluator's judgement of progress after one step.
type Verdict struct {
	GoalReached     bool     `json:"goal_reached"`
	ProgressPercent float64  `json:"progress_percent"`
	Assessment      string   `json:"assessment,omitempty"`
	NextAction      Action   `json:"next_action"`
	Reason          string   `json:"reason,omitempty"`
	RetryHint       string   `json:"retry_hint,omitempty"`
	Score           *float64 `json:"score,omitempty"`

	// Fallback is set when the response could not be parsed.
	Fallback bool `json:"-"`
}

// failOpen is used when the evaluator's answer is unreadable.
func failOpen() Verdict {
	return Verdict{NextAction: ActionContinue, Fallback: true}
}

// ParseVerdict decodes an evaluator response. Field types are read leniently
// ("true", "9.5" as strings are accepted). Anything unreadable yields a
// continue verdict with Fallback set.
func ParseVerdict(response string) Verdict {
	var raw map[string]any
	if err := llm.ParseJSON(response, &raw); err != nil {
		return failOpen()
	}
	v := Verdict{
		GoalReached: boolOf(raw["goal_reached"]),
		Assessment:  stringOf(raw["assessment"]),
		NextAction:  Action(strings.ToLower(strings.TrimSpace(stringOf(raw["next_action"])))),
		Reason:      stringOf(raw["reason"]),
		RetryHint:   stringOf(raw["retry_hint"]),
	}
	if p, ok := numberOf(raw["progress_percent"]); ok {
		v.ProgressPercent = p
	}
	if sc, ok := numberOf(raw["score"]); ok {
		v.Score = &sc
	}
	if v.NextAction == "" {
		v.NextAction = ActionContinue
	}
	return v
}

func boolOf(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(strings.TrimSpace(b))
		return ok
	}
	return false
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

const (
	stepLineLimit   = 120
	lastResultLimit = 4000
)

func stepsSummary(history []HistoryEntry, limit int) string {
	if len(history) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		lines = append(lines, fmt.Sprintf("  %d. %s → %s", h.Index+1, h.Description, truncate(h.Result, limit)))
	}
	return strings.Join(lines, "\n")
}

// evaluate asks the model to judge the latest result. Only provider and
// context errors are returned; formatting noise fails open.
func (e *Engine) evaluate(ctx context.Context, s *Session, result string) (Verdict, error) {
	ctx, span := e.startPhaseSpan(ctx, "evaluate", s)
	var err error
	defer func() { endPhaseSpan(span, err) }()

	e.mu.Lock()
	vars := map[string]string{
		"goal":        s.Goal,
		"iteration":   strconv.Itoa(s.Iteration),
		"steps":       stepsSummary(s.History, stepLineLimit),
		"last_result": truncate(result, lastResultLimit),
	}
	e.mu.Unlock()

	system, err := e.prompts.Render(PromptEvaluator, vars)
	if err != nil {
		return Verdict{}, err
	}
	resp, err := e.model.Query(ctx, []llm.Message{llm.System(system), llm.User("Assess the progress.")}, true)
	if err != nil {
		return Verdict{}, err
	}
	v := ParseVerdict(resp)
	if v.Fallback {
		log.Printf("[Evaluator] Unreadable verdict, continuing: %s", truncate(resp, 200))
	}
	e.logger.LogEvaluation(s.ID, v)
	return v, nil
}
