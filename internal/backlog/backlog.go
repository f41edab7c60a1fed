// Package backlog is the persistent queue of self-generated goals.
package backlog

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategorySelfExpand  Category = "self_expand"
	CategorySelfImprove Category = "self_improve"
	CategoryExplore     Category = "explore"
	CategoryReflect     Category = "reflect"
	CategoryInteract    Category = "interact"
	CategoryCreate      Category = "create"
	// CategoryExternal marks goals submitted by an operator through a gateway.
	CategoryExternal Category = "external"
)

// Categories lists the generated categories in a fixed order.
var Categories = []Category{
	CategorySelfExpand,
	CategorySelfImprove,
	CategoryExplore,
	CategoryReflect,
	CategoryInteract,
	CategoryCreate,
}

// ParseCategory maps s to a known category, defaulting to explore.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == CategoryExternal {
		return c
	}
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryExplore
}

type Goal struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	Category  Category  `json:"category"`
	Priority  int       `json:"priority"`
	Reasoning string    `json:"reasoning"`
	CreatedAt time.Time `json:"created_at"`
	Completed bool      `json:"completed"`
	Outcome   *string   `json:"outcome"`
	Score     *float64  `json:"score"`
}

// ClampPriority keeps p within 1..10.
func ClampPriority(p int) int {
	switch {
	case p < 1:
		return 1
	case p > 10:
		return 10
	}
	return p
}

var (
	ErrGoalNotFound    = errors.New("goal not found")
	ErrAlreadyRecorded = errors.New("goal outcome already recorded")
)

type Stats struct {
	Total       int              `json:"total"`
	Completed   int              `json:"completed"`
	Pending     int              `json:"pending"`
	SuccessRate float64          `json:"success_rate"`
	AvgScore    float64          `json:"avg_score"`
	ByCategory  map[Category]int `json:"by_category"`
}

// Backlog holds goals in insertion order. Every mutation is persisted.
type Backlog struct {
	mu    sync.Mutex
	store Store
	goals []*Goal
}

// New loads the backlog from store; a load failure leaves it empty.
func New(store Store) *Backlog {
	goals, err := store.Load()
	if err != nil {
		log.Printf("[Backlog] Starting empty: %v", err)
		goals = nil
	}
	return &Backlog{store: store, goals: goals}
}

// Enqueue appends goals and persists the backlog. Goals without an id get
// one.
func (b *Backlog) Enqueue(goals ...*Goal) error {
	if len(goals) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range goals {
		if g.ID == "" {
			g.ID = uuid.NewString()
		}
		g.Priority = ClampPriority(g.Priority)
		if g.CreatedAt.IsZero() {
			g.CreatedAt = time.Now()
		}
		b.goals = append(b.goals, g)
	}
	return b.persist()
}

// Next returns the highest-priority incomplete goal. Ties go to the goal
// enqueued first.
func (b *Backlog) Next() (Goal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var best *Goal
	for _, g := range b.goals {
		if g.Completed {
			continue
		}
		if best == nil || g.Priority > best.Priority {
			best = g
		}
	}
	if best == nil {
		return Goal{}, false
	}
	return *best, true
}

// RecordOutcome completes the goal with id. It can be called once per goal.
func (b *Backlog) RecordOutcome(id, outcome string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.goals {
		if g.ID != id {
			continue
		}
		if g.Completed {
			return fmt.Errorf("%w: %s", ErrAlreadyRecorded, id)
		}
		g.Completed = true
		g.Outcome = &outcome
		g.Score = &score
		return b.persist()
	}
	return fmt.Errorf("%w: %s", ErrGoalNotFound, id)
}

// Pending returns the incomplete goals, highest priority first.
func (b *Backlog) Pending() []Goal {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Goal
	for _, g := range b.goals {
		if !g.Completed {
			out = append(out, *g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// All returns every goal in insertion order.
func (b *Backlog) All() []Goal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Goal, 0, len(b.goals))
	for _, g := range b.goals {
		out = append(out, *g)
	}
	return out
}

// Recent returns up to n most recently enqueued goals, oldest first.
func (b *Backlog) Recent(n int) []Goal {
	all := b.All()
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Stats summarises the backlog. Success rate is the completed share of all
// goals.
func (b *Backlog) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Stats{Total: len(b.goals), ByCategory: make(map[Category]int)}
	var scored int
	var sum float64
	for _, g := range b.goals {
		s.ByCategory[g.Category]++
		if g.Completed {
			s.Completed++
		}
		if g.Score != nil {
			scored++
			sum += *g.Score
		}
	}
	s.Pending = s.Total - s.Completed
	if s.Total > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Total) * 100
	}
	if scored > 0 {
		s.AvgScore = sum / float64(scored)
	}
	return s
}

func (b *Backlog) persist() error {
	if err := b.store.Save(b.goals); err != nil {
		return fmt.Errorf("persist backlog: %w", err)
	}
	return nil
}
