package observability

import (
	"sync"
	"time"
)

// Status is what the live dashboard shows about the agent.
type Status struct {
	Phase         string
	Goal          string
	Iteration     int
	MaxIterations int
	Cycles        int
	Reached       int
	Failed        int
	Backlog       int
}

type systemStatus struct {
	mu            sync.RWMutex
	current       Status
	lastHeartbeat time.Time
}

var globalStatus = &systemStatus{
	current:       Status{Phase: "idle"},
	lastHeartbeat: time.Now(),
}

// SetStatus replaces the global agent status.
func SetStatus(st Status) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	if st.Phase == "" {
		st.Phase = "idle"
	}
	globalStatus.current = st
}

// GetStatus retrieves a copy of the global agent status and the time of the
// last heartbeat.
func GetStatus() (Status, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.current, globalStatus.lastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.lastHeartbeat = time.Now()
}
