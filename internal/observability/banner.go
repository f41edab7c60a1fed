package observability

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorGreen    = "\033[92m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
    ___         __              _ __      __
   /   | __  __/ /_____  ____  (_) /___  / /_
  / /| |/ / / / __/ __ \/ __ \/ / / __ \/ __/
 / ___ / /_/ / /_/ /_/ / /_/ / / / /_/ / /_
/_/  |_\__,_/\__/\____/ .___/_/_/\____/\__/
                     /_/
        >> AUTONOMOUS GOAL EXECUTION <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Header/Logo area: 1-9
	// Dashboard/Status: 10
	// Gap: 11
	// Scrolling Logs: 12+
	fmt.Print("\033[12;r")  // Set scrolling region from line 12 to the bottom
	fmt.Print("\033[12;1H") // Move cursor to the start of the scrolling region
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// hostLoad is the host CPU and memory usage in percent.
type hostLoad struct {
	CPU    float64
	Memory float64
}

func readHostLoad() hostLoad {
	var h hostLoad
	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		h.CPU = p[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.Memory = vm.UsedPercent
	}
	return h
}

func phaseStyle(phase string) (string, string) {
	switch phase {
	case "planning":
		return "🧭", colorNeonCyan
	case "executing":
		return "⚙️", colorNeonCyan
	case "evaluating":
		return "🔍", colorPurple
	case "goal_reached":
		return "✅", colorGreen
	case "goal_failed", "aborted":
		return "❌", colorNeonMag
	default:
		return "💤", colorReset
	}
}

func loadBar(percent float64, width int) string {
	filled := clamp(int(percent/100*float64(width)), 0, width)
	return strings.Repeat("█", filled) + strings.Repeat("▒", width-filled)
}

// renderStatus builds the one-line dashboard without cursor control.
func renderStatus(st Status, lastHB time.Time, host hostLoad, frame string, now time.Time) string {
	pulseIcon, pulseText, pulseColor := "🔴", "OFFLINE", colorNeonMag
	switch delta := now.Sub(lastHB); {
	case delta < 40*time.Second:
		pulseIcon, pulseText, pulseColor = "🟢", "HEALTHY", colorNeonCyan
	case delta < 90*time.Second:
		pulseIcon, pulseText, pulseColor = "🟡", "LAGGING", colorPurple
	}

	icon, phaseColor := phaseStyle(st.Phase)

	goal := st.Goal
	if goal == "" {
		goal = "Waiting..."
	}
	if r := []rune(goal); len(r) > 32 {
		goal = strings.TrimSpace(string(r[:29])) + "..."
	}

	progress := ""
	if st.MaxIterations > 0 && st.Phase != "idle" {
		progress = fmt.Sprintf(" %d/%d", st.Iteration, st.MaxIterations)
	}

	barColor := colorNeonCyan
	if host.CPU > 70 || host.Memory > 85 {
		barColor = colorNeonMag
	}

	return fmt.Sprintf(
		"%s[%s] %s%s %-7s%s | %s%s %-12s%s%s [%s] %s%s%s | ✔ %d ✘ %d ⏳ %d | %s%s cpu %.0f%% mem %.0f%%%s [%v]",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		phaseColor, icon, st.Phase, colorReset, progress,
		goal,
		colorPurple, frame, colorReset,
		st.Reached, st.Failed, st.Backlog,
		barColor, loadBar(host.CPU, 10), host.CPU, host.Memory, colorReset,
		now.Sub(startTime).Round(time.Second),
	)
}

// PrintLiveStatus redraws the dashboard line.
func PrintLiveStatus(frame int) {
	st, lastHB := GetStatus()
	radar := " "
	if st.Phase != "idle" {
		radar = radarFrames[frame%len(radarFrames)]
	}
	line := renderStatus(st, lastHB, readHostLoad(), radar, time.Now())

	// Lock, write the ENTIRE escape sequence atomically, unlock.
	termMu.Lock()
	fmt.Print("\033[s\033[10;1H\033[K" + line + "\033[u")
	termMu.Unlock()
}

// RunDashboard refreshes the status from source and redraws it every
// interval until ctx is cancelled.
func RunDashboard(ctx context.Context, interval time.Duration, source func() Status) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		SetStatus(source())
		PrintLiveStatus(frame)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
