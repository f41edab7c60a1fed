package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/ledger"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel answers planner, evaluator, summary and direct queries from
// fixed scripts. The last entry of a script repeats once it is exhausted.
type scriptedModel struct {
	mu         sync.Mutex
	plans      []string
	verdicts   []string
	planErr    error
	evalErr    error
	summary    string
	summaryErr error
	direct     string

	planCalls    int
	evalCalls    int
	summaryCalls int
	planUsers    []string
	onEvaluate   func(n int)
}

func (m *scriptedModel) Query(_ context.Context, msgs []llm.Message, _ bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	system := msgs[0].Content
	switch {
	case strings.Contains(system, "planning module"):
		m.planCalls++
		m.planUsers = append(m.planUsers, msgs[len(msgs)-1].Content)
		if m.planErr != nil {
			return "", m.planErr
		}
		return pick(m.plans, m.planCalls), nil
	case strings.Contains(system, "evaluator of an autonomous agent"):
		m.evalCalls++
		if m.onEvaluate != nil {
			m.onEvaluate(m.evalCalls)
		}
		if m.evalErr != nil {
			return "", m.evalErr
		}
		return pick(m.verdicts, m.evalCalls), nil
	case strings.Contains(system, "Summarise the outcome"):
		m.summaryCalls++
		if m.summaryErr != nil {
			return "", m.summaryErr
		}
		if m.summary == "" {
			return "All done.", nil
		}
		return m.summary, nil
	default:
		if m.direct == "" {
			return "direct answer", nil
		}
		return m.direct, nil
	}
}

func pick(script []string, call int) string {
	if len(script) == 0 {
		return ""
	}
	if call > len(script) {
		return script[len(script)-1]
	}
	return script[call-1]
}

func planJSON(steps ...string) string {
	return `{"goal_understood": "understood", "plan": [` + strings.Join(steps, ",") + `]}`
}

func step(index int, capName string, params string) string {
	capField := "null"
	if capName != "" {
		capField = fmt.Sprintf("%q", capName)
	}
	if params == "" {
		params = "{}"
	}
	return fmt.Sprintf(`{"index": %d, "description": "step %d", "capability": %s, "params": %s, "rationale": "because"}`,
		index, index, capField, params)
}

const (
	verdictContinue = `{"goal_reached": false, "next_action": "continue", "reason": "ok"}`
	verdictRetry    = `{"goal_reached": false, "next_action": "retry", "reason": "failed", "retry_hint": "try harder"}`
	verdictReplan   = `{"goal_reached": false, "next_action": "replan", "reason": "wrong approach"}`
)

func verdictReached(score float64) string {
	return fmt.Sprintf(`{"goal_reached": true, "progress_percent": 100, "next_action": "continue", "score": %.1f}`, score)
}

func newRegistry(t *testing.T, rec capability.Recorder) *capability.Registry {
	t.Helper()
	opts := []capability.Option{}
	if rec != nil {
		opts = append(opts, capability.WithRecorder(rec))
	}
	return capability.NewRegistry(opts...)
}

func TestRun_HappyPath(t *testing.T) {
	led := ledger.New(&ledger.MemoryStore{})
	reg := newRegistry(t, led)
	var written string
	reg.RegisterFunc("write_file", "write a file", capability.Schema{
		{Name: "path", Required: true},
		{Name: "content", Required: true},
	}, func(_ context.Context, p map[string]any) (string, error) {
		written = capability.StringParam(p, "content")
		return "wrote " + capability.StringParam(p, "path"), nil
	})

	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "write_file", `{"path": "notes.txt", "content": "one\ntwo\nthree"}`))},
		verdicts: []string{verdictReached(9.0)},
		summary:  "Wrote three lines.",
	}
	e := NewEngine(reg, model, WithAdvisor(led))

	s, err := e.Run(context.Background(), "write three lines to a file")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalReached, s.Status)
	require.NotNil(t, s.Score)
	assert.Equal(t, 9.0, *s.Score)
	assert.Len(t, s.History, 1)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, StepDone, s.Plan[0].Status)
	assert.Equal(t, "one\ntwo\nthree", written)
	assert.Equal(t, "Wrote three lines.", s.Summary)
	assert.Equal(t, "understood", s.Understood)
	assert.False(t, s.FinishedAt.IsZero())

	rec, ok := led.Get("write_file")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Successes)
}

func TestRun_MissingParameterRetriesSameStep(t *testing.T) {
	led := ledger.New(&ledger.MemoryStore{})
	reg := newRegistry(t, led)
	reg.RegisterFunc("write_file", "write a file", capability.Schema{
		{Name: "path", Required: true},
		{Name: "content", Required: true},
	}, func(_ context.Context, p map[string]any) (string, error) {
		return "ok", nil
	})

	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "write_file", `{"path": "notes.txt"}`))},
		verdicts: []string{verdictRetry, verdictReached(8)},
	}
	e := NewEngine(reg, model)

	s, err := e.Run(context.Background(), "write a file")
	require.NoError(t, err)
	require.Len(t, s.History, 2)
	assert.Contains(t, s.History[0].Result, "missing parameter: content")
	assert.Contains(t, s.History[0].Error, "missing parameter")
	assert.Equal(t, 0, s.History[0].Index)
	assert.Equal(t, 0, s.History[1].Index)
	assert.Equal(t, 1, s.Plan[0].Retries)
	assert.Equal(t, "try harder", s.Plan[0].Rationale)
	assert.Equal(t, 2, s.Iteration)

	rec, _ := led.Get("write_file")
	assert.Equal(t, 2, rec.Failures)
}

func TestRun_UnparseablePlan(t *testing.T) {
	model := &scriptedModel{plans: []string{"Sure! I'll get right on it."}}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.Empty(t, s.Plan)
	assert.Equal(t, "No plan could be created.", s.Summary)
	assert.ErrorIs(t, s.Err, ErrPlanParse)
	assert.Equal(t, 0, s.Iteration)
	assert.Equal(t, 0, model.summaryCalls)
}

func TestRun_ForcedAbortAfterSecondStep(t *testing.T) {
	reg := newRegistry(t, nil)
	var e *Engine
	calls := 0
	reg.RegisterFunc("work", "does work", nil, func(context.Context, map[string]any) (string, error) {
		calls++
		if calls == 2 {
			e.Abort()
		}
		return fmt.Sprintf("result %d", calls), nil
	})

	model := &scriptedModel{
		plans: []string{planJSON(
			step(0, "work", ""), step(1, "work", ""), step(2, "work", ""), step(3, "work", ""), step(4, "work", ""),
		)},
		verdicts: []string{verdictContinue},
	}
	e = NewEngine(reg, model)

	s, err := e.Run(context.Background(), "five steps")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, s.Status)
	assert.ErrorIs(t, s.Err, ErrAborted)
	assert.Equal(t, 2, calls)
	assert.Len(t, s.History, 2)
	assert.Equal(t, StepDone, s.Plan[0].Status)
	assert.Equal(t, StepSkipped, s.Plan[1].Status, "interrupted step must not stay running")
	for _, st := range s.Plan[2:] {
		assert.Equal(t, StepSkipped, st.Status)
	}
	assert.Equal(t, 1, model.summaryCalls, "aborted sessions still get a summary")
}

func TestRun_AbortDuringFirstStepLeavesNothingRunning(t *testing.T) {
	reg := newRegistry(t, nil)
	var e *Engine
	reg.RegisterFunc("work", "does work", nil, func(context.Context, map[string]any) (string, error) {
		e.Abort()
		return "partial", nil
	})
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "work", ""), step(1, "work", ""))},
		verdicts: []string{verdictContinue},
	}
	e = NewEngine(reg, model)

	s, err := e.Run(context.Background(), "two steps")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, s.Status)
	assert.Zero(t, model.evalCalls)
	for i, st := range s.Plan {
		assert.Equal(t, StepSkipped, st.Status, "step %d", i)
	}
	assert.Equal(t, StatusAborted, e.Snapshot().Status)
}

func TestRun_ContextCancelledAfterEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""), step(1, "", ""), step(2, "", ""), step(3, "", ""), step(4, "", ""))},
		verdicts: []string{verdictContinue},
		onEvaluate: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(ctx, "five direct steps")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, s.Status)
	assert.Len(t, s.History, 2)
	assert.Equal(t, StepDone, s.Plan[1].Status)
	assert.Equal(t, StepSkipped, s.Plan[2].Status)
}

func TestRun_IterationBound(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""))},
		verdicts: []string{verdictRetry},
	}
	e := NewEngine(newRegistry(t, nil), model, WithMaxIterations(3))

	s, err := e.Run(context.Background(), "never ends")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.ErrorIs(t, s.Err, ErrBoundExceeded)
	assert.Equal(t, 3, s.Iteration)
	assert.Len(t, s.History, 3)
}

func TestRun_RetryBoundForcesReplan(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""))},
		verdicts: []string{verdictRetry},
	}
	e := NewEngine(newRegistry(t, nil), model, WithMaxIterations(100))

	s, err := e.Run(context.Background(), "always retried")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.ErrorIs(t, s.Err, ErrBoundExceeded)
	// one initial plan and three replans, each step tried six times
	assert.Equal(t, 4, model.planCalls)
	assert.Equal(t, 3, s.Replans)
	assert.Equal(t, 24, s.Iteration)
	assert.Equal(t, 6, s.Plan[0].Retries)
	assert.Contains(t, model.planUsers[1], "Previous attempts failed")
}

func TestRun_OutputsSurviveReplan(t *testing.T) {
	reg := newRegistry(t, nil)
	reg.RegisterFunc("fetch", "fetch a page", nil, func(context.Context, map[string]any) (string, error) {
		return "page body", nil
	})
	var echoed string
	reg.RegisterFunc("echo", "echo text", capability.Schema{{Name: "text", Required: true}}, func(_ context.Context, p map[string]any) (string, error) {
		echoed = capability.StringParam(p, "text")
		return echoed, nil
	})
	model := &scriptedModel{
		plans: []string{
			planJSON(step(0, "fetch", "")),
			planJSON(step(0, "echo", `{"text": "OUTPUT_OF_STEP_0"}`)),
		},
		verdicts: []string{verdictReplan, verdictReached(8)},
	}
	e := NewEngine(reg, model)

	s, err := e.Run(context.Background(), "fetch then echo")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalReached, s.Status)
	assert.Equal(t, 1, s.Replans)
	assert.Equal(t, "page body", echoed)
}

func TestRun_ReplanBound(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""), step(1, "", ""))},
		verdicts: []string{verdictReplan},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "keeps replanning")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.ErrorIs(t, s.Err, ErrBoundExceeded)
	assert.Equal(t, 3, s.Replans)
	assert.Equal(t, 4, model.planCalls)
	assert.Equal(t, 4, s.Iteration)
	assert.Contains(t, model.planUsers[3], "wrong approach")
}

func TestRun_GoalReachedTakesPriorityOverRetry(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""), step(1, "", ""))},
		verdicts: []string{`{"goal_reached": true, "next_action": "retry", "score": 7}`},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "quick")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalReached, s.Status)
	assert.Equal(t, 7.0, *s.Score)
	assert.Len(t, s.History, 1)
	assert.Equal(t, StepDone, s.Plan[0].Status)
	assert.Equal(t, StepSkipped, s.Plan[1].Status)
}

func TestRun_UnreadableVerdictFailsOpen(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""), step(1, "", ""))},
		verdicts: []string{"I think it went well?", verdictReached(6)},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "two steps")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalReached, s.Status)
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, StepDone, s.Plan[0].Status)
}

func TestRun_ProviderErrorDuringEvaluationIsReturned(t *testing.T) {
	model := &scriptedModel{
		plans:   []string{planJSON(step(0, "", ""))},
		evalErr: &llm.Error{Provider: "openai", RateLimited: true, Err: errors.New("429")},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "rate limited")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.Len(t, s.History, 1)
	assert.Equal(t, StepFailed, s.Plan[0].Status)
}

func TestRun_ProviderErrorDuringPlanningIsReturned(t *testing.T) {
	model := &scriptedModel{planErr: &llm.Error{Provider: "anthropic", Err: errors.New("boom")}}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "unreachable")
	assert.ErrorIs(t, err, llm.ErrProvider)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.Equal(t, "No plan could be created.", s.Summary)
}

func TestRun_SummaryFallback(t *testing.T) {
	model := &scriptedModel{
		plans:      []string{planJSON(step(0, "", ""))},
		verdicts:   []string{verdictReached(9)},
		summaryErr: errors.New("summary down"),
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "summarise me")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalReached, s.Status)
	assert.Equal(t, "Status: goal_reached. 1 step attempt(s) recorded.", s.Summary)
}

func TestRun_DataFlowBetweenSteps(t *testing.T) {
	reg := newRegistry(t, nil)
	reg.RegisterFunc("fetch", "fetch", nil, func(context.Context, map[string]any) (string, error) {
		return "A", nil
	})
	var got string
	reg.RegisterFunc("echo", "echo", capability.Schema{{Name: "text", Required: true}},
		func(_ context.Context, p map[string]any) (string, error) {
			got = capability.StringParam(p, "text")
			return got, nil
		})

	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "fetch", ""), step(1, "echo", `{"text": "OUTPUT_OF_STEP_0"}`))},
		verdicts: []string{verdictContinue, verdictReached(9)},
	}
	e := NewEngine(reg, model)

	s, err := e.Run(context.Background(), "pipe")
	require.NoError(t, err)
	assert.Equal(t, "A", got)
	assert.Equal(t, "A", s.History[1].Params["text"])
	assert.Equal(t, "OUTPUT_OF_STEP_0", s.Plan[1].Params["text"], "declared params are kept")
}

type installer struct{}

func (installer) Name() string              { return "create_capability" }
func (installer) Description() string       { return "installs" }
func (installer) Schema() capability.Schema { return nil }
func (installer) Invoke(context.Context, map[string]any) (capability.Result, error) {
	return capability.Result{Text: "installed fresh", Installed: true}, nil
}

func TestRun_InstalledCapabilityTriggersRefresh(t *testing.T) {
	reg := newRegistry(t, nil)
	reg.Register(installer{})
	refreshes := 0
	refresh := func(context.Context) error {
		refreshes++
		reg.RegisterFunc("fresh", "new", nil, func(context.Context, map[string]any) (string, error) {
			return "fresh works", nil
		})
		return nil
	}

	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "create_capability", ""), step(1, "fresh", ""))},
		verdicts: []string{verdictContinue, verdictReached(10)},
	}
	e := NewEngine(reg, model, WithRefresh(refresh))

	s, err := e.Run(context.Background(), "grow")
	require.NoError(t, err)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, "fresh works", s.History[1].Result)
}

func TestRun_UnknownCapabilityRefreshesOnce(t *testing.T) {
	reg := newRegistry(t, nil)
	refreshes := 0
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "ghost", ""))},
		verdicts: []string{`{"next_action": "abort", "reason": "no such capability"}`},
	}
	e := NewEngine(reg, model, WithRefresh(func(context.Context) error {
		refreshes++
		return nil
	}))

	s, err := e.Run(context.Background(), "haunt")
	require.NoError(t, err)
	assert.Equal(t, 1, refreshes)
	assert.Contains(t, s.History[0].Result, "capability not found: ghost")
	assert.Equal(t, StatusGoalFailed, s.Status)
}

func TestRun_PlanExhaustedWithoutGoal(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""))},
		verdicts: []string{verdictContinue},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "one and done")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.ErrorIs(t, s.Err, ErrPlanExhausted)
}

func TestRun_UnrecognizedActionsHaveATolerance(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""), step(1, "", ""), step(2, "", ""), step(3, "", ""), step(4, "", ""), step(5, "", ""))},
		verdicts: []string{`{"goal_reached": false, "next_action": "dance"}`},
	}
	e := NewEngine(newRegistry(t, nil), model)

	s, err := e.Run(context.Background(), "confused")
	require.NoError(t, err)
	assert.Equal(t, StatusGoalFailed, s.Status)
	assert.Equal(t, 4, s.Iteration)
}

func TestSnapshot(t *testing.T) {
	model := &scriptedModel{
		plans:    []string{planJSON(step(0, "", ""))},
		verdicts: []string{verdictReached(5)},
	}
	e := NewEngine(newRegistry(t, nil), model, WithMaxIterations(7))

	idle := e.Snapshot()
	assert.Equal(t, StatusIdle, idle.Status)
	assert.Equal(t, 7, idle.MaxIterations)

	_, err := e.Run(context.Background(), "snap")
	require.NoError(t, err)
	snap := e.Snapshot()
	assert.Equal(t, StatusGoalReached, snap.Status)
	assert.Equal(t, "snap", snap.Goal)
	assert.Equal(t, 1, snap.Iteration)
	assert.Equal(t, 5.0, *snap.Score)
	assert.Len(t, snap.History, 1)
}

func TestParsePlan(t *testing.T) {
	understood, steps, err := ParsePlan("```json\n" + `{"goal_understood": "g", "plan": [
		{"index": 3, "description": "a", "skill": "search", "params": {"q": "x"}, "reason": "r"},
		{"index": 3, "description": "b", "skill": null, "params": null}
	]}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "g", understood)
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].Index, "duplicate indexes are renumbered")
	assert.Equal(t, 1, steps[1].Index)
	assert.Equal(t, "search", steps[0].Capability)
	assert.Equal(t, "r", steps[0].Rationale)
	assert.Equal(t, "", steps[1].Capability)
	assert.NotNil(t, steps[1].Params)

	_, steps, err = ParsePlan(`{"plan": [{"index": 2, "description": "x"}, {"index": 5, "description": "y"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 2, steps[0].Index)
	assert.Equal(t, 5, steps[1].Index)

	for _, bad := range []string{
		`no json here`,
		`{"plan": []}`,
		`{"plan": [{"capability": "x"}]}`,
		`{"steps": [{"description": "x"}]}`,
		`{"plan": "do it"}`,
	} {
		_, _, err := ParsePlan(bad)
		assert.ErrorIs(t, err, ErrPlanParse, bad)
	}
}

func TestParseVerdict(t *testing.T) {
	v := ParseVerdict(`{"goal_reached": "true", "score": "8.5", "next_action": " Retry "}`)
	assert.True(t, v.GoalReached)
	require.NotNil(t, v.Score)
	assert.Equal(t, 8.5, *v.Score)
	assert.Equal(t, ActionRetry, v.NextAction)
	assert.False(t, v.Fallback)

	v = ParseVerdict(`{}`)
	assert.Equal(t, ActionContinue, v.NextAction)
	assert.Nil(t, v.Score)

	v = ParseVerdict("nope")
	assert.True(t, v.Fallback)
	assert.Equal(t, ActionContinue, v.NextAction)
}

func TestRun_IterationCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	verdicts := map[int]string{
		0: verdictContinue,
		1: verdictRetry,
		2: verdictReplan,
		3: verdictReached(7),
		4: "garbage",
	}

	properties.Property("iterations equal attempts and stay within the bound", prop.ForAll(
		func(seq []int, steps int, max int) bool {
			script := make([]string, 0, len(seq))
			for _, v := range seq {
				script = append(script, verdicts[v])
			}
			plan := make([]string, 0, steps)
			for i := 0; i < steps; i++ {
				plan = append(plan, step(i, "", ""))
			}
			model := &scriptedModel{plans: []string{planJSON(plan...)}, verdicts: script}
			e := NewEngine(newRegistry(t, nil), model, WithMaxIterations(max))

			s, err := e.Run(context.Background(), "property")
			if err != nil || !s.Status.Terminal() {
				return false
			}
			if s.Iteration != len(s.History) || s.Iteration > max || s.Replans > maxReplans {
				return false
			}
			for _, st := range s.Plan {
				if st.Retries > maxStepRetries+1 {
					return false
				}
			}
			if s.Status == StatusGoalReached {
				last := s.History[len(s.History)-1]
				done := false
				for _, st := range s.Plan {
					if st.Index == last.Index && st.Status == StepDone {
						done = true
					}
				}
				return done && s.Score != nil
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 4)),
		gen.IntRange(1, 5),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}
