package observability

import (
	"strings"
	"testing"
	"time"
)

func TestRenderStatus(t *testing.T) {
	now := time.Now()
	st := Status{
		Phase:         "executing",
		Goal:          "Summarise the latest release notes of every dependency",
		Iteration:     4,
		MaxIterations: 50,
		Reached:       2,
		Failed:        1,
		Backlog:       5,
	}
	line := renderStatus(st, now, hostLoad{CPU: 12, Memory: 40}, "◜", now)

	for _, want := range []string{"HEALTHY", "executing", " 4/50", "Summarise the latest release...", "✔ 2 ✘ 1 ⏳ 5", "cpu 12%", "mem 40%"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestRenderStatus_IdleAndStale(t *testing.T) {
	now := time.Now()
	line := renderStatus(Status{Phase: "idle", MaxIterations: 50}, now.Add(-2*time.Minute), hostLoad{}, " ", now)

	if !strings.Contains(line, "OFFLINE") {
		t.Errorf("expected OFFLINE pulse, got %q", line)
	}
	if !strings.Contains(line, "Waiting...") {
		t.Errorf("expected idle placeholder, got %q", line)
	}
	if strings.Contains(line, "/50") {
		t.Errorf("idle dashboard should not show progress: %q", line)
	}
}

func TestLoadBar(t *testing.T) {
	if got := loadBar(50, 10); got != "█████▒▒▒▒▒" {
		t.Errorf("unexpected bar %q", got)
	}
	if got := loadBar(250, 4); got != "████" {
		t.Errorf("bar should clamp, got %q", got)
	}
}

func TestSetStatus_DefaultsPhase(t *testing.T) {
	SetStatus(Status{Goal: "x"})
	st, _ := GetStatus()
	if st.Phase != "idle" {
		t.Errorf("expected idle phase, got %q", st.Phase)
	}
}
