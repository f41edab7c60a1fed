package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/autopilot/internal/agent"
	"github.com/rahul/autopilot/internal/backlog"
	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/gateway"
	"github.com/rahul/autopilot/internal/governance"
	"github.com/rahul/autopilot/internal/ledger"
	"github.com/rahul/autopilot/internal/llm"
	"github.com/rahul/autopilot/internal/memory"
	"github.com/rahul/autopilot/internal/observability"
	"github.com/rahul/autopilot/internal/store"
	"github.com/rahul/autopilot/internal/tools"
	"github.com/rahul/autopilot/pkg/config"
)

// Default safety rules: block dangerous destructive commands.
var defaultDenyPatterns = []string{`rm\s+-rf\s+/`, `mkfs`, `shutdown`, `reboot`, `:\(\)\s*\{`}

// app holds every wired component. close releases them in reverse order.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	history  *store.HistoryStore
	memory   *memory.Store
	ledger   *ledger.Ledger
	backlog  *backlog.Backlog
	registry *capability.Registry
	scripts  *tools.ScriptLoader
	fanout   *gateway.Fanout
	engine   *agent.Engine
	orch     *agent.Orchestrator
	closers  []func() error
}

func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.LoadConfig(g.Config)
	if err != nil {
		return nil, err
	}
	if g.Provider != "" {
		err := cfg.ApplyEnv(func(key string) (string, bool) {
			if key == "LLM_PROVIDER" {
				return g.Provider, true
			}
			return os.LookupEnv(key)
		})
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp wires the stores, capabilities, model, engine and orchestrator.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, fanout: gateway.NewFanout()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	for _, dir := range []string{cfg.App.Workspace, filepath.Dir(cfg.Memory.Path), filepath.Dir(cfg.Storage.MemoryIndex), cfg.Storage.Capabilities} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var loggerOpts []observability.LoggerOption
	if cfg.LLM.LogPath != "" {
		loggerOpts = append(loggerOpts, observability.WithLLMLog(cfg.LLM.LogPath))
	}
	if cfg.Telemetry.NATSURL != "" {
		sink, err := observability.NewNATSSink(cfg.Telemetry.NATSURL, cfg.Telemetry.Subject)
		if err != nil {
			log.Printf("[Main] Telemetry disabled: %v", err)
		} else {
			loggerOpts = append(loggerOpts, observability.WithSink(sink))
			a.closers = append(a.closers, sink.Close)
		}
	}
	a.logger = observability.NewLogger(loggerOpts...)

	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		return nil, err
	}
	a.history = history
	a.closers = append(a.closers, history.Close)

	mem, err := memory.Open(cfg.Storage.MemoryIndex)
	if err != nil {
		return nil, err
	}
	a.memory = mem
	a.closers = append(a.closers, mem.Close)

	a.ledger = ledger.New(ledger.NewJSONFileStore(cfg.Storage.Ledger))
	a.backlog = backlog.New(backlog.NewJSONFileStore(cfg.Storage.Backlog))

	gov, err := newPolicy(cfg.Governance)
	if err != nil {
		return nil, err
	}
	a.registry = capability.NewRegistry(capability.WithRecorder(a.ledger), capability.WithGuard(gov))

	a.scripts = tools.NewScriptLoader(cfg.Storage.Capabilities, cfg.App.Workspace, a.registry)
	tools.RegisterBuiltins(a.registry, tools.Deps{
		Workspace: cfg.App.Workspace,
		Memory:    a.memory,
		Schedules: a.history,
		Messenger: a.fanout,
		Scripts:   a.scripts,
		Browser:   cfg.App.Browser,
	})
	if n, err := a.scripts.Load(); err != nil {
		log.Printf("[Main] Scripted capabilities unavailable: %v", err)
	} else {
		log.Printf("[Main] %d scripted capabilities loaded", n)
	}

	model, provider, err := llm.NewFromConfig(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	log.Printf("[Main] Using provider %s", provider)

	prompts := agent.NewPromptManager(cfg.App.Prompts)
	a.engine = agent.NewEngine(a.registry, model,
		agent.WithMaxIterations(cfg.Engine.MaxIterations),
		agent.WithAdvisor(a.ledger),
		agent.WithMemory(a.memory),
		agent.WithSessionRecorder(agent.NewArchive(a.history)),
		agent.WithLogger(a.logger),
		agent.WithPrompts(prompts),
		agent.WithRefresh(a.scripts.Refresh),
	)
	a.orch = agent.NewOrchestrator(agent.OrchestratorConfig{
		Engine:    a.engine,
		Backlog:   a.backlog,
		Generator: newGenerator(model, prompts),
		Memory:    a.memory,
		Notifier:  a.fanout,
		Ledger:    a.ledger,
		Logger:    a.logger,
		BatchSize: cfg.Engine.GoalBatchSize,
		Pause:     cfg.Engine.CyclePause(),
	})

	ok = true
	return a, nil
}

// newGenerator uses the operator's goals template when one exists.
func newGenerator(model llm.Querier, prompts *agent.PromptManager) *backlog.Generator {
	gen := backlog.NewGenerator(model)
	if t, ok := prompts.Override(agent.PromptGoals); ok && strings.TrimSpace(t) != "" {
		gen.Prompt = t
	}
	return gen
}

func newPolicy(g config.GovernanceConfig) (*governance.DefaultPolicyEngine, error) {
	gov := governance.NewDefaultPolicyEngine()
	for _, name := range g.DenyCapabilities {
		gov.DenyCapability(name)
	}
	patterns := g.DenyPatterns
	if len(patterns) == 0 {
		patterns = defaultDenyPatterns
	}
	for _, p := range patterns {
		if err := gov.DenyArguments(p); err != nil {
			return nil, fmt.Errorf("governance pattern %q: %w", p, err)
		}
	}
	for _, rule := range g.Rules {
		if err := gov.DenyWhen(rule); err != nil {
			return nil, fmt.Errorf("governance rule %q: %w", rule, err)
		}
	}
	return gov, nil
}

// startGateways connects every enabled chat gateway and registers it with
// the fan-out notifier.
func (a *app) startGateways(ctx context.Context) {
	if c, ok := a.cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(c.Token, a.orch)
		if err != nil {
			log.Printf("[Main] Telegram disabled: %v", err)
		} else {
			a.runGateway(ctx, tg, c.Notify)
		}
	}
	if c, ok := a.cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(c.Token, a.orch)
		if err != nil {
			log.Printf("[Main] Discord disabled: %v", err)
		} else {
			a.runGateway(ctx, dc, c.Notify)
		}
	}
}

func (a *app) runGateway(ctx context.Context, gw gateway.Gateway, notify []string) {
	a.fanout.Add(gw, notify)
	a.closers = append(a.closers, gw.Stop)
	go func() {
		if err := gw.Start(ctx); err != nil {
			log.Printf("\033[91m[ FAIL ] %s gateway error: %v\033[0m", gw.Name(), err)
		}
	}()
}

// status maps the orchestrator state onto the dashboard.
func (a *app) status() observability.Status {
	snap := a.orch.Snapshot()
	st := a.orch.Stats()
	return observability.Status{
		Phase:         string(snap.Status),
		Goal:          snap.Goal,
		Iteration:     snap.Iteration,
		MaxIterations: snap.MaxIterations,
		Cycles:        st.Cycles,
		Reached:       st.Reached,
		Failed:        st.Failed,
		Backlog:       st.Backlog.Pending,
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[Main] Shutdown: %v", err)
		}
	}
	a.closers = nil
}
