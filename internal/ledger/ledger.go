// Package ledger keeps per-capability execution statistics and turns them
// into advisory reliability ratings for the planner.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxErrorLen = 200

// Record is the persisted statistics of one capability.
type Record struct {
	Executions int        `json:"executions"`
	Successes  int        `json:"successes"`
	Failures   int        `json:"failures"`
	TotalTimeS float64    `json:"total_time_s"`
	LastError  *string    `json:"last_error"`
	LastUsed   *time.Time `json:"last_used"`
	Created    time.Time  `json:"created"`
}

// Reliability is the rating derived from a record.
type Reliability string

const (
	Unknown  Reliability = "unknown"
	Reliable Reliability = "reliable"
	Unstable Reliability = "unstable"
	Faulty   Reliability = "faulty"
)

// Score summarises a record.
type Score struct {
	Name        string      `json:"name"`
	Executions  int         `json:"executions"`
	SuccessRate float64     `json:"success_rate"`
	AvgTimeS    float64     `json:"avg_time_s"`
	Reliability Reliability `json:"reliability"`
	LastError   string      `json:"last_error,omitempty"`
}

// Ledger records invocation outcomes. Every update is persisted before the
// call returns. A single writer is assumed; the mutex only protects the
// in-process map.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	records map[string]*Record
	now     func() time.Time
}

// New loads the ledger from store. Load failures leave the ledger empty.
func New(store Store) *Ledger {
	records, err := store.Load()
	if err != nil {
		logf("[Ledger] Starting empty: %v", err)
		records = nil
	}
	if records == nil {
		records = make(map[string]*Record)
	}
	records = dropNull(records)
	return &Ledger{store: store, records: records, now: time.Now}
}

func (l *Ledger) entry(name string) *Record {
	r := l.records[name]
	if r == nil {
		r = &Record{Created: l.now()}
		l.records[name] = r
	}
	return r
}

// RecordSuccess counts a successful invocation of name.
func (l *Ledger) RecordSuccess(name string, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.entry(name)
	r.Executions++
	r.Successes++
	r.TotalTimeS += d.Seconds()
	now := l.now()
	r.LastUsed = &now
	return l.persist()
}

// RecordFailure counts a failed invocation of name. errText is truncated.
func (l *Ledger) RecordFailure(name, errText string, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.entry(name)
	r.Executions++
	r.Failures++
	r.TotalTimeS += d.Seconds()
	if runes := []rune(errText); len(runes) > maxErrorLen {
		errText = string(runes[:maxErrorLen])
	}
	r.LastError = &errText
	now := l.now()
	r.LastUsed = &now
	return l.persist()
}

func (l *Ledger) persist() error {
	if err := l.store.Save(l.records); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

// Get returns a copy of the record for name.
func (l *Ledger) Get(name string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.records[name]
	if r == nil {
		return Record{}, false
	}
	return *r, true
}

func rate(r *Record) float64 {
	if r.Executions == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Executions) * 100
}

func rating(r *Record) Reliability {
	if r == nil || r.Executions < 2 {
		return Unknown
	}
	switch p := rate(r); {
	case p >= 80:
		return Reliable
	case p >= 50:
		return Unstable
	default:
		return Faulty
	}
}

// Reliability rates name. Fewer than two executions is Unknown.
func (l *Ledger) Reliability(name string) Reliability {
	l.mu.Lock()
	defer l.mu.Unlock()
	return rating(l.records[name])
}

// Score returns the summary of name.
func (l *Ledger) Score(name string) Score {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.score(name)
}

func (l *Ledger) score(name string) Score {
	s := Score{Name: name, Reliability: Unknown}
	r := l.records[name]
	if r == nil {
		return s
	}
	s.Executions = r.Executions
	s.SuccessRate = rate(r)
	if r.Executions > 0 {
		s.AvgTimeS = r.TotalTimeS / float64(r.Executions)
	}
	s.Reliability = rating(r)
	if r.LastError != nil {
		s.LastError = *r.LastError
	}
	return s
}

// AdviceFor lists the capabilities among names that are not rated reliable
// and have been tried at least twice. It returns "" when there is nothing to
// warn about.
func (l *Ledger) AdviceFor(names []string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var lines []string
	for _, name := range names {
		s := l.score(name)
		if s.Reliability != Unstable && s.Reliability != Faulty {
			continue
		}
		line := fmt.Sprintf("- %s: %s (%.0f%% success over %d runs)", name, s.Reliability, s.SuccessRate, s.Executions)
		if s.LastError != "" {
			line += "; last error: " + s.LastError
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return "Reliability notes (prefer alternatives where possible):\n" + strings.Join(lines, "\n")
}

// Overview returns every score, least reliable first.
func (l *Ledger) Overview() []Score {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Score, 0, len(l.records))
	for name := range l.records {
		out = append(out, l.score(name))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate < out[j].SuccessRate
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FormatOverview renders scores as an operator table.
func FormatOverview(scores []Score) string {
	if len(scores) == 0 {
		return "No capability executions recorded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %6s %8s %8s  %s\n", "CAPABILITY", "RUNS", "SUCCESS", "AVG(s)", "RATING")
	for _, s := range scores {
		fmt.Fprintf(&b, "%-24s %6d %7.0f%% %8.2f  %s\n", s.Name, s.Executions, s.SuccessRate, s.AvgTimeS, s.Reliability)
	}
	return b.String()
}
