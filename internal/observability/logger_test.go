package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf), WithLLMLog(""))

	l.LogStep("s1", 2, "filesystem", map[string]any{"path": "a"}, "ok", "")
	l.LogSession("s1", "write a note", "goal_reached", "done", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	var evt struct {
		Type      string         `json:"type"`
		SessionID string         `json:"session_id"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &evt); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if evt.Type != "step" || evt.SessionID != "s1" {
		t.Errorf("unexpected event header: %+v", evt)
	}
	if evt.Data["capability"] != "filesystem" {
		t.Errorf("unexpected data: %v", evt.Data)
	}
}

func TestLogger_LLMEventsGoToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	var buf bytes.Buffer
	l := NewLogger(WithOutput(&buf), WithLLMLog(path))

	l.LogLLM("s1", "prompt", "response", "")
	l.LogHeartbeat()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("llm log not written: %v", err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("expected exactly the llm event in file, got %q", data)
	}
}

func TestLogger_Sinks(t *testing.T) {
	var got []EventType
	l := NewLogger(
		WithOutput(&bytes.Buffer{}),
		WithLLMLog(""),
		WithSink(SinkFunc(func(evt Event, _ []byte) error {
			got = append(got, evt.Type)
			return nil
		})),
		WithSink(SinkFunc(func(Event, []byte) error { return errors.New("down") })),
	)

	l.LogPlan("s1", 0, []string{"a"})
	l.LogGoal("g1", "learn", "goal_reached", 8)

	if len(got) != 2 || got[0] != EventTypePlan || got[1] != EventTypeGoal {
		t.Errorf("unexpected sink events: %v", got)
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var l *Logger
	l.LogHeartbeat()
	l.LogReplan("s", 1, "why")
}
