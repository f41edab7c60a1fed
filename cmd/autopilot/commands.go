package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/backlog"
	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/ledger"
	"github.com/rahul/autopilot/internal/observability"
)

const heartbeatInterval = 30 * time.Second

func (r *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if r.Batch > 0 {
		cfg.Engine.GoalBatchSize = r.Batch
	}
	if r.Pause >= 0 {
		cfg.Engine.CyclePauseSeconds = r.Pause
	}
	if r.MaxIter > 0 {
		cfg.Engine.MaxIterations = r.MaxIter
	}

	if r.Dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		// Route all log output through the terminal mutex so it never
		// interrupts the dashboard's cursor save/restore sequence.
		log.SetOutput(observability.NewTermWriter())
		defer observability.CleanupTerminal()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !r.NoGateways {
		a.startGateways(ctx)
	}

	go func() {
		if err := a.scripts.Watch(ctx); err != nil {
			log.Printf("[Main] Capability watcher stopped: %v", err)
		}
	}()

	scheduler := agent.NewScheduler(a.history, a.backlog)
	go scheduler.Start(ctx)

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				a.logger.LogHeartbeat()
			}
		}
	}()

	if r.Dashboard {
		go observability.RunDashboard(ctx, time.Second, a.status)
	}

	err = a.orch.Run(ctx)

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] Autopilot stopped.\033[0m")
	return err
}

func (c *GoalCmd) Run(g *Globals) error {
	goal := strings.TrimSpace(strings.Join(c.Text, " "))
	if goal == "" {
		return fmt.Errorf("empty goal")
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if c.MaxIter > 0 {
		cfg.Engine.MaxIterations = c.MaxIter
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	s, runErr := a.engine.Run(capability.WithOrigin(ctx, "cli"), goal)

	out, err := json.MarshalIndent(a.engine.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if runErr != nil {
		return runErr
	}
	if s.Status != agent.StatusGoalReached {
		return fmt.Errorf("goal finished with status %s", s.Status)
	}
	return nil
}

func (c *BacklogCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	b := backlog.New(backlog.NewJSONFileStore(cfg.Storage.Backlog))

	st := b.Stats()
	fmt.Printf("Goals: %d total, %d pending, %d completed (average score %.1f)\n", st.Total, st.Pending, st.Completed, st.AvgScore)
	cats := make([]string, 0, len(st.ByCategory))
	for cat, n := range st.ByCategory {
		cats = append(cats, fmt.Sprintf("%s=%d", cat, n))
	}
	sort.Strings(cats)
	if len(cats) > 0 {
		fmt.Printf("By category: %s\n", strings.Join(cats, ", "))
	}

	goals := b.Pending()
	if c.All {
		goals = b.All()
	}
	if len(goals) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println(backlog.SummarizeGoals(goals))
	return nil
}

func (c *LedgerCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	l := ledger.New(ledger.NewJSONFileStore(cfg.Storage.Ledger))
	fmt.Print(ledger.FormatOverview(l.Overview()))
	return nil
}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("autopilot version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
