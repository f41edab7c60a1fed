// Package agent runs goals to completion: the plan/execute/evaluate engine,
// the orchestrator that feeds it from the backlog, and the recurring-goal
// scheduler.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/dataflow"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxIterations = 50

	maxStepRetries    = 5
	maxReplans        = 3
	maxUnknownActions = 3

	errorLimit       = 500
	memoryLimit      = 800
	summaryLineLimit = 150

	noPlanSummary = "No plan could be created."
)

var (
	// ErrBoundExceeded marks a session stopped by the iteration, retry or
	// replan limit.
	ErrBoundExceeded = errors.New("bound exceeded")
	ErrAborted       = errors.New("session aborted")
	ErrPlanExhausted = errors.New("plan finished without reaching the goal")
	ErrBusy          = errors.New("engine is already running a goal")
)

// Capabilities is the registry view the engine dispatches through.
type Capabilities interface {
	Invoke(ctx context.Context, name string, params map[string]any) (capability.Result, error)
	Describe(advisor capability.Advisor) string
}

// MemoryContext supplies long-term memory relevant to a goal.
type MemoryContext interface {
	Context(ctx context.Context, query string) string
}

// SessionRecorder archives finished sessions.
type SessionRecorder interface {
	RecordSession(s *Session) error
}

// Engine drives one goal at a time through planning, execution and
// evaluation until it reaches a terminal state.
type Engine struct {
	caps          Capabilities
	model         llm.Querier
	prompts       *PromptManager
	advisor       capability.Advisor
	memory        MemoryContext
	recorder      SessionRecorder
	logger        *observability.Logger
	refresh       func(ctx context.Context) error
	tracer        trace.Tracer
	maxIterations int

	mu      sync.Mutex
	session *Session
	running atomic.Bool
	aborted atomic.Bool
}

type Option func(*Engine)

// WithMaxIterations bounds the step attempts of one session. Values below 1
// keep the default.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

func WithAdvisor(a capability.Advisor) Option { return func(e *Engine) { e.advisor = a } }

func WithMemory(m MemoryContext) Option { return func(e *Engine) { e.memory = m } }

func WithSessionRecorder(r SessionRecorder) Option { return func(e *Engine) { e.recorder = r } }

func WithLogger(l *observability.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithPrompts(pm *PromptManager) Option { return func(e *Engine) { e.prompts = pm } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithRefresh sets the hook that reloads capabilities after one of them
// reports an installation.
func WithRefresh(fn func(ctx context.Context) error) Option {
	return func(e *Engine) { e.refresh = fn }
}

func NewEngine(caps Capabilities, model llm.Querier, opts ...Option) *Engine {
	e := &Engine{
		caps:          caps,
		model:         model,
		prompts:       NewPromptManager(""),
		tracer:        defaultTracer(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runConfig struct {
	goalID string
	extra  string
}

type RunOption func(*runConfig)

// WithGoalID ties the session to a backlog goal.
func WithGoalID(id string) RunOption { return func(rc *runConfig) { rc.goalID = id } }

// WithExtraContext adds text to the first planning request.
func WithExtraContext(text string) RunOption { return func(rc *runConfig) { rc.extra = text } }

// MaxIterations returns the per-session step attempt limit.
func (e *Engine) MaxIterations() int { return e.maxIterations }

// Abort asks the running session to stop at its next checkpoint.
func (e *Engine) Abort() {
	if e.aborted.CompareAndSwap(false, true) {
		log.Println("[Engine] Abort requested")
	}
}

// Snapshot returns a copy of the current session's status.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Snapshot{Status: StatusIdle, MaxIterations: e.maxIterations, History: []HistoryEntry{}}
	}
	return e.session.snapshot(e.maxIterations)
}

// Run executes goal to a terminal state. The returned session is always
// non-nil unless the engine is busy. The error is non-nil only when the
// model provider failed during planning or evaluation; other failures are
// reported through the session's status and Err.
func (e *Engine) Run(ctx context.Context, goal string, opts ...RunOption) (*Session, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.running.Store(false)

	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}
	s := &Session{
		ID:        uuid.NewString(),
		GoalID:    rc.goalID,
		Goal:      goal,
		Status:    StatusIdle,
		History:   []HistoryEntry{},
		StartedAt: time.Now(),
	}
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	e.aborted.Store(false)

	log.Printf("[Engine] Goal: %s", truncate(goal, 120))
	ctx, span := e.startRunSpan(ctx, s)
	err := e.loop(ctx, s, rc)
	e.finish(ctx, s)
	endRunSpan(span, s, err)
	return s, err
}

func (e *Engine) loop(ctx context.Context, s *Session, rc runConfig) error {
	memory := e.memoryContext(ctx, s.Goal)

	e.setStatus(s, StatusPlanning)
	plan, err := e.plan(ctx, s, memory, rc.extra, "")
	if err != nil {
		e.update(func() { s.Summary = noPlanSummary })
		return e.fail(ctx, s, err)
	}
	e.update(func() {
		s.Plan = plan
		s.Status = StatusExecuting
	})

	var outputs dataflow.Outputs
	cursor, unknown := 0, 0
	for {
		if e.cancelled(ctx) {
			e.terminate(s, StatusAborted, e.abortCause(ctx))
			return nil
		}
		if s.Iteration >= e.maxIterations {
			e.terminate(s, StatusGoalFailed, fmt.Errorf("%w: %d iterations", ErrBoundExceeded, e.maxIterations))
			return nil
		}
		if cursor >= len(s.Plan) {
			e.terminate(s, StatusGoalFailed, ErrPlanExhausted)
			return nil
		}

		step := s.Plan[cursor]
		e.update(func() {
			s.Iteration++
			s.Status = StatusExecuting
			step.Status = StepRunning
		})
		result := e.execute(ctx, s, step, &outputs)

		if e.cancelled(ctx) {
			e.terminate(s, StatusAborted, e.abortCause(ctx))
			return nil
		}

		e.setStatus(s, StatusEvaluating)
		verdict, err := e.evaluate(ctx, s, result)
		if err != nil {
			return e.fail(ctx, s, err)
		}

		if verdict.GoalReached {
			score := 0.0
			if verdict.Score != nil {
				score = *verdict.Score
			}
			e.update(func() {
				step.Status = StepDone
				s.Score = &score
				s.Status = StatusGoalReached
			})
			log.Printf("[Engine] Goal reached after %d iteration(s), score %.1f", s.Iteration, score)
			return nil
		}

		switch verdict.NextAction {
		case ActionContinue:
			unknown = 0
			e.update(func() { step.Status = StepDone })
			cursor++

		case ActionRetry:
			unknown = 0
			e.update(func() { step.Retries++ })
			if step.Retries > maxStepRetries {
				reason := fmt.Sprintf("step %d failed after %d retries: %s", step.Index+1, maxStepRetries, verdict.Reason)
				log.Printf("[Engine] Retry limit reached for step %d, replanning", step.Index+1)
				done, err := e.replan(ctx, s, step, memory, rc.extra, reason)
				if done {
					return err
				}
				cursor = 0
				continue
			}
			fresh := step.retried(verdict.RetryHint)
			e.update(func() {
				step.Status = StepFailed
				s.Plan[cursor] = fresh
				s.Status = StatusExecuting
			})
			log.Printf("[Engine] Retrying step %d (%d/%d)", fresh.Index+1, fresh.Retries, maxStepRetries)

		case ActionReplan:
			unknown = 0
			done, err := e.replan(ctx, s, step, memory, rc.extra, verdict.Reason)
			if done {
				return err
			}
			cursor = 0

		case ActionAbort:
			e.update(func() { step.Status = StepFailed })
			e.terminate(s, StatusGoalFailed, fmt.Errorf("evaluator aborted: %s", verdict.Reason))
			return nil

		default:
			unknown++
			if unknown > maxUnknownActions {
				e.terminate(s, StatusGoalFailed, fmt.Errorf("%w: %d unrecognized actions in a row", ErrBoundExceeded, unknown))
				return nil
			}
			log.Printf("[Engine] Unrecognized action %q, continuing", verdict.NextAction)
			e.update(func() { step.Status = StepDone })
			cursor++
		}
	}
}

// replan replaces the plan. done reports that the session has terminated,
// with err set when a provider failure ended it.
func (e *Engine) replan(ctx context.Context, s *Session, current *PlanStep, memory, extra, reason string) (done bool, err error) {
	e.update(func() { current.Status = StepFailed })
	if s.Replans >= maxReplans {
		e.terminate(s, StatusGoalFailed, fmt.Errorf("%w: replan limit of %d reached", ErrBoundExceeded, maxReplans))
		return true, nil
	}
	e.update(func() {
		s.Replans++
		s.Status = StatusPlanning
	})
	e.logger.LogReplan(s.ID, s.Replans, reason)
	log.Printf("[Engine] Replan %d/%d: %s", s.Replans, maxReplans, truncate(reason, 120))

	steps, err := e.plan(ctx, s, memory, extra, "Previous attempts failed: "+reason)
	if err != nil {
		return true, e.fail(ctx, s, err)
	}
	e.update(func() {
		s.Plan = steps
		s.Status = StatusExecuting
	})
	return false, nil
}

// execute runs one step attempt and records it in the history.
func (e *Engine) execute(ctx context.Context, s *Session, step *PlanStep, outputs *dataflow.Outputs) string {
	ctx, span := e.startStepSpan(ctx, s, step)
	params := dataflow.Resolve(step.Params, outputs)

	var result, errText string
	if step.Capability == "" {
		answer, err := e.direct(ctx, step.Description)
		if err != nil {
			errText = err.Error()
			result = "Direct query failed: " + errText
		} else {
			result = answer
		}
	} else {
		res, err := e.invoke(ctx, step.Capability, params)
		if err != nil {
			errText = err.Error()
			result = errText
		} else {
			result = res.Text
			if res.Installed {
				log.Printf("[Engine] %s installed a capability, refreshing", step.Capability)
				e.refreshCapabilities(ctx)
			}
		}
	}
	var spanErr error
	if errText != "" {
		spanErr = errors.New(errText)
	}
	endPhaseSpan(span, spanErr)

	outputs.Record(step.Index, result)
	entry := HistoryEntry{
		Index:       step.Index,
		Description: step.Description,
		Capability:  step.Capability,
		Params:      params,
		Result:      result,
		Error:       truncate(errText, errorLimit),
		Iteration:   s.Iteration,
		Timestamp:   time.Now(),
	}
	e.update(func() {
		step.Result = result
		step.Error = entry.Error
		if errText != "" {
			step.Status = StepFailed
		}
		s.History = append(s.History, entry)
	})
	e.logger.LogStep(s.ID, step.Index, step.Capability, params, truncate(result, 500), entry.Error)
	return result
}

func (e *Engine) invoke(ctx context.Context, name string, params map[string]any) (capability.Result, error) {
	res, err := e.caps.Invoke(ctx, name, params)
	if kind, ok := capability.KindOf(err); ok && kind == capability.KindNotFound && e.refresh != nil {
		e.refreshCapabilities(ctx)
		res, err = e.caps.Invoke(ctx, name, params)
	}
	return res, err
}

func (e *Engine) refreshCapabilities(ctx context.Context) {
	if e.refresh == nil {
		return
	}
	if err := e.refresh(ctx); err != nil {
		log.Printf("[Engine] Capability refresh failed: %v", err)
	}
}

func (e *Engine) direct(ctx context.Context, task string) (string, error) {
	system, err := e.prompts.Template(PromptDirect)
	if err != nil {
		return "", err
	}
	return e.model.Query(ctx, []llm.Message{llm.System(system), llm.User(task)}, false)
}

func (e *Engine) memoryContext(ctx context.Context, goal string) string {
	if e.memory == nil {
		return ""
	}
	return truncate(e.memory.Context(ctx, goal), memoryLimit)
}

// finish writes the summary, stamps the session and archives it.
func (e *Engine) finish(ctx context.Context, s *Session) {
	if s.Summary == "" {
		summary := e.summarize(context.WithoutCancel(ctx), s)
		e.update(func() { s.Summary = summary })
	}
	e.update(func() {
		s.FinishedAt = time.Now()
		for _, step := range s.Plan {
			switch {
			case step.Status == StepPending:
				step.Status = StepSkipped
			case step.Status == StepRunning && s.Status == StatusAborted:
				step.Status = StepSkipped
			case step.Status == StepRunning:
				step.Status = StepFailed
			}
		}
	})
	log.Printf("[Engine] Session %s finished: %s after %d iteration(s)", s.ID, s.Status, s.Iteration)
	e.logger.LogSession(s.ID, s.Goal, string(s.Status), s.Summary, s.Iteration)

	if e.recorder != nil {
		if err := e.recorder.RecordSession(s); err != nil {
			log.Printf("[Engine] Failed to archive session %s: %v", s.ID, err)
		}
	}
}

func fallbackSummary(s *Session) string {
	return fmt.Sprintf("Status: %s. %d step attempt(s) recorded.", s.Status, len(s.History))
}

func (e *Engine) summarize(ctx context.Context, s *Session) string {
	ctx, span := e.startPhaseSpan(ctx, "summary", s)
	var err error
	defer func() { endPhaseSpan(span, err) }()

	system, err := e.prompts.Render(PromptSummary, map[string]string{
		"goal":   s.Goal,
		"status": string(s.Status),
		"steps":  stepsSummary(s.History, summaryLineLimit),
	})
	if err != nil {
		return fallbackSummary(s)
	}
	out, err := e.model.Query(ctx, []llm.Message{llm.System(system), llm.User("Summary:")}, false)
	if err != nil {
		log.Printf("[Engine] Summary failed: %v", err)
		return fallbackSummary(s)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallbackSummary(s)
	}
	return out
}

// fail ends the session after a planning or evaluation error. Cancellation
// becomes aborted; anything else is goal_failed. Errors from the model are
// handed back to the caller of Run.
func (e *Engine) fail(ctx context.Context, s *Session, err error) error {
	switch {
	case e.cancelled(ctx) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.terminate(s, StatusAborted, fmt.Errorf("%w: %v", ErrAborted, err))
		return nil
	case errors.Is(err, ErrPlanParse):
		e.terminate(s, StatusGoalFailed, err)
		return nil
	default:
		e.terminate(s, StatusGoalFailed, err)
		return err
	}
}

func (e *Engine) terminate(s *Session, status SessionStatus, cause error) {
	e.update(func() {
		s.Status = status
		s.Err = cause
	})
	if cause != nil {
		log.Printf("[Engine] %s: %v", status, cause)
	}
}

func (e *Engine) cancelled(ctx context.Context) bool {
	return e.aborted.Load() || ctx.Err() != nil
}

func (e *Engine) abortCause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return ErrAborted
}

func (e *Engine) setStatus(s *Session, status SessionStatus) {
	e.update(func() { s.Status = status })
}

func (e *Engine) update(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}
