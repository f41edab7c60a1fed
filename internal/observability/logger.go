package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeEvaluation  EventType = "evaluation"
	EventTypeReplan      EventType = "replan"
	EventTypeSession     EventType = "session"
	EventTypeCapability  EventType = "capability"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeGoal        EventType = "goal"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives every encoded event in addition to the primary output.
type Sink interface {
	Publish(evt Event, data []byte) error
}

// Logger handles structured logging. A nil *Logger discards everything.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
	sinks      []Sink
}

type LoggerOption func(*Logger)

// WithOutput redirects the JSON event stream (stdout by default).
func WithOutput(w io.Writer) LoggerOption {
	return func(l *Logger) { l.out = w }
}

// WithLLMLog sets the rotating file that also receives llm events.
// An empty path disables the file.
func WithLLMLog(path string) LoggerOption {
	return func(l *Logger) { l.llmLogPath = path }
}

// WithSink adds an event sink.
func WithSink(s Sink) LoggerOption {
	return func(l *Logger) { l.sinks = append(l.sinks, s) }
}

func NewLogger(opts ...LoggerOption) *Logger {
	l := &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"type":%q,"error":"failed to marshal event: %v"}`, evt.Type, err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
	for _, s := range l.sinks {
		if err := s.Publish(evt, data); err != nil {
			log.Printf("[Logger] sink publish failed: %v", err)
		}
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(sessionID string, replan int, steps any) {
	l.Log(Event{
		Type:      EventTypePlan,
		SessionID: sessionID,
		Data: map[string]any{
			"replan": replan,
			"steps":  steps,
		},
	})
}

func (l *Logger) LogStep(sessionID string, index int, capability string, params map[string]any, result, errText string) {
	l.Log(Event{
		Type:      EventTypeStep,
		SessionID: sessionID,
		Data: map[string]any{
			"index":      index,
			"capability": capability,
			"params":     params,
			"result":     result,
			"error":      errText,
		},
	})
}

func (l *Logger) LogEvaluation(sessionID string, verdict any) {
	l.Log(Event{
		Type:      EventTypeEvaluation,
		SessionID: sessionID,
		Data:      verdict,
	})
}

func (l *Logger) LogReplan(sessionID string, count int, reason string) {
	l.Log(Event{
		Type:      EventTypeReplan,
		SessionID: sessionID,
		Data: map[string]any{
			"count":  count,
			"reason": reason,
		},
	})
}

func (l *Logger) LogSession(sessionID, goal, status, summary string, iteration int) {
	l.Log(Event{
		Type:      EventTypeSession,
		SessionID: sessionID,
		Data: map[string]any{
			"goal":      goal,
			"status":    status,
			"summary":   summary,
			"iteration": iteration,
		},
	})
}

func (l *Logger) LogCapability(action, name, detail string) {
	l.Log(Event{
		Type: EventTypeCapability,
		Data: map[string]string{
			"action": action,
			"name":   name,
			"detail": detail,
		},
	})
}

func (l *Logger) LogGoal(goalID, goal, outcome string, score float64) {
	l.Log(Event{
		Type: EventTypeGoal,
		Data: map[string]any{
			"id":      goalID,
			"goal":    goal,
			"outcome": outcome,
			"score":   score,
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(sessionID string, prompt any, response string, errText string) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
			"error":    errText,
		},
	})
}
