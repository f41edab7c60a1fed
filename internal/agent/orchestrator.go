package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/autopilot/internal/backlog"
	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/ledger"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/observability"
)

const (
	DefaultBatchSize  = 3
	DefaultCyclePause = 30 * time.Second

	// SubmittedPriority is the priority of goals handed in by an operator.
	SubmittedPriority = 8

	rateLimitPause = time.Minute
)

// Notifier delivers goal outcomes. origin is where the goal came from, ""
// for self-generated goals.
type Notifier interface {
	Notify(ctx context.Context, origin, text string)
}

// LongTermMemory is what the orchestrator reads and writes between goals.
type LongTermMemory interface {
	MemoryContext
	Remember(ctx context.Context, content, source string, tags ...string) (string, error)
}

type OrchestratorConfig struct {
	Engine    *Engine
	Backlog   *backlog.Backlog
	Generator *backlog.Generator
	Memory    LongTermMemory
	Notifier  Notifier
	Ledger    *ledger.Ledger
	Logger    *observability.Logger
	BatchSize int
	Pause     time.Duration
}

// Orchestrator runs the perpetual cycle: keep the backlog filled, pick the
// most important goal, run it, record how it went.
type Orchestrator struct {
	engine    *Engine
	backlog   *backlog.Backlog
	generator *backlog.Generator
	memory    LongTermMemory
	notifier  Notifier
	ledger    *ledger.Ledger
	logger    *observability.Logger
	batchSize int
	pause     time.Duration

	mu      sync.Mutex
	origins map[string]string
	current string
	cycles  int
	reached int
	failed  int
	started time.Time
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Pause < 0 {
		cfg.Pause = DefaultCyclePause
	}
	return &Orchestrator{
		engine:    cfg.Engine,
		backlog:   cfg.Backlog,
		generator: cfg.Generator,
		memory:    cfg.Memory,
		notifier:  cfg.Notifier,
		ledger:    cfg.Ledger,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
		pause:     cfg.Pause,
		origins:   make(map[string]string),
		started:   time.Now(),
	}
}

// Run cycles until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("[Orchestrator] Started (batch %d, pause %s)", o.batchSize, o.pause)
	for {
		wait := o.pause
		if _, err := o.RunCycle(ctx); err != nil {
			log.Printf("[Orchestrator] Cycle failed: %v", err)
			if errors.Is(err, llm.ErrRateLimited) && wait < rateLimitPause {
				wait = rateLimitPause
			}
		}
		if ctx.Err() != nil {
			log.Println("[Orchestrator] Stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			log.Println("[Orchestrator] Stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// RunCycle runs one goal from the backlog. It returns the finished session,
// or nil when the backlog had nothing to do.
func (o *Orchestrator) RunCycle(ctx context.Context) (*Session, error) {
	o.mu.Lock()
	o.cycles++
	cycle := o.cycles
	o.mu.Unlock()

	o.refill(ctx)

	goal, ok := o.backlog.Next()
	if !ok {
		log.Printf("[Orchestrator] Cycle %d: backlog is empty", cycle)
		return nil, nil
	}
	log.Printf("[Orchestrator] Cycle %d: [%s] %s (priority %d)", cycle, goal.Category, goal.Goal, goal.Priority)

	o.mu.Lock()
	o.current = goal.Goal
	origin := o.origins[goal.ID]
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.current = ""
		o.mu.Unlock()
	}()

	runCtx := ctx
	if origin != "" {
		runCtx = capability.WithOrigin(ctx, origin)
	}
	opts := []RunOption{WithGoalID(goal.ID)}
	if goal.Reasoning != "" {
		opts = append(opts, WithExtraContext(goal.Reasoning))
	}
	s, err := o.engine.Run(runCtx, goal.Goal, opts...)
	if err != nil {
		// provider trouble says nothing about the goal, leave it pending
		return s, err
	}
	if s.Status == StatusAborted && ctx.Err() != nil {
		return s, nil
	}

	score := outcomeScore(s)
	outcome := fmt.Sprintf("%s: %s", s.Status, s.Summary)
	if err := o.backlog.RecordOutcome(goal.ID, outcome, score); err != nil {
		log.Printf("[Orchestrator] Failed to record outcome: %v", err)
	}

	o.mu.Lock()
	delete(o.origins, goal.ID)
	if s.Status == StatusGoalReached {
		o.reached++
	} else {
		o.failed++
	}
	o.mu.Unlock()

	o.logger.LogGoal(goal.ID, goal.Goal, string(s.Status), score)
	o.remember(ctx, goal, s)
	if o.notifier != nil {
		o.notifier.Notify(ctx, origin, formatOutcome(goal, s, score))
	}
	return s, nil
}

// outcomeScore is the evaluator's score for reached goals (8 when it gave
// none) and at least 1 otherwise.
func outcomeScore(s *Session) float64 {
	if s.Status == StatusGoalReached {
		if s.Score != nil && *s.Score > 0 {
			return *s.Score
		}
		return 8.0
	}
	score := 2.0
	if s.Score != nil && *s.Score > 0 {
		score = *s.Score
	}
	if score < 1 {
		score = 1
	}
	return score
}

func formatOutcome(g backlog.Goal, s *Session, score float64) string {
	icon := "✅"
	if s.Status != StatusGoalReached {
		icon = "❌"
	}
	return fmt.Sprintf("%s %s\nStatus: %s (score %.1f, %d iteration(s))\n\n%s",
		icon, g.Goal, s.Status, score, s.Iteration, s.Summary)
}

func (o *Orchestrator) refill(ctx context.Context) {
	if o.generator == nil {
		return
	}
	pending := o.backlog.Pending()
	if len(pending) >= 2*o.batchSize {
		return
	}
	in := backlog.GenerateInput{
		Capabilities: o.engine.caps.Describe(nil),
		Weaknesses:   o.weaknesses(),
		Recent:       o.backlog.Recent(10),
		Existing:     o.backlog.All(),
	}
	if o.memory != nil {
		in.Knowledge = o.memory.Context(ctx, "goal outcome learned")
	}
	goals := o.generator.Generate(ctx, o.batchSize, in)
	if err := o.backlog.Enqueue(goals...); err != nil {
		log.Printf("[Orchestrator] Failed to persist new goals: %v", err)
	}
}

func (o *Orchestrator) weaknesses() string {
	if o.ledger == nil {
		return ""
	}
	scores := o.ledger.Overview()
	names := make([]string, 0, len(scores))
	for _, s := range scores {
		names = append(names, s.Name)
	}
	return o.ledger.AdviceFor(names)
}

func (o *Orchestrator) remember(ctx context.Context, g backlog.Goal, s *Session) {
	if o.memory == nil {
		return
	}
	verb := "completed"
	if s.Status != StatusGoalReached {
		verb = "failed"
	}
	content := fmt.Sprintf("Goal %s: %s. %s", verb, g.Goal, truncate(s.Summary, 300))
	if _, err := o.memory.Remember(ctx, content, "orchestrator", string(g.Category), string(s.Status)); err != nil {
		log.Printf("[Orchestrator] Failed to store memory: %v", err)
	}
}

// SubmitGoal queues an operator goal ahead of generated ones.
func (o *Orchestrator) SubmitGoal(ctx context.Context, text, origin string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty goal")
	}
	g := &backlog.Goal{
		ID:        uuid.NewString(),
		Goal:      text,
		Category:  backlog.CategoryExternal,
		Priority:  SubmittedPriority,
		Reasoning: "Submitted via " + origin,
	}
	o.mu.Lock()
	o.origins[g.ID] = origin
	o.mu.Unlock()
	if err := o.backlog.Enqueue(g); err != nil {
		o.mu.Lock()
		delete(o.origins, g.ID)
		o.mu.Unlock()
		return "", err
	}
	log.Printf("[Orchestrator] Goal %s submitted via %s", g.ID, origin)
	return g.ID, nil
}

// Abort stops the goal that is currently running.
func (o *Orchestrator) Abort() {
	o.engine.Abort()
}

// Snapshot is the engine's current session status.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.engine.Snapshot()
}

// Stats is the orchestrator's own counters plus the backlog's.
type Stats struct {
	Cycles  int           `json:"cycles"`
	Reached int           `json:"reached"`
	Failed  int           `json:"failed"`
	Uptime  time.Duration `json:"uptime"`
	Current string        `json:"current,omitempty"`
	Backlog backlog.Stats `json:"backlog"`
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Cycles:  o.cycles,
		Reached: o.reached,
		Failed:  o.failed,
		Uptime:  time.Since(o.started).Round(time.Second),
		Current: o.current,
		Backlog: o.backlog.Stats(),
	}
}

// StatusText renders the snapshot for chat replies.
func (o *Orchestrator) StatusText() string {
	snap := o.Snapshot()
	if snap.Status == StatusIdle {
		return "Idle, no goal has run yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\nStatus: %s\nIteration: %d/%d\n", snap.Goal, snap.Status, snap.Iteration, snap.MaxIterations)
	if snap.Score != nil {
		fmt.Fprintf(&b, "Score: %.1f\n", *snap.Score)
	}
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		fmt.Fprintf(&b, "Last step: %s → %s\n", last.Description, truncate(last.Result, 120))
	}
	if snap.Summary != "" {
		fmt.Fprintf(&b, "\n%s", snap.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// StatsText renders Stats for chat replies.
func (o *Orchestrator) StatsText() string {
	st := o.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "Cycles: %d (reached %d, failed %d)\nUptime: %s\n", st.Cycles, st.Reached, st.Failed, st.Uptime)
	fmt.Fprintf(&b, "Backlog: %d total, %d pending, %d completed\n", st.Backlog.Total, st.Backlog.Pending, st.Backlog.Completed)
	fmt.Fprintf(&b, "Completed share: %.0f%%, average score %.1f", st.Backlog.SuccessRate, st.Backlog.AvgScore)
	return b.String()
}
