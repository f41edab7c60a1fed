package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestLoadConfig_Formats(t *testing.T) {
	files := map[string]string{
		"config.json": `{"app":{"name":"bot"},"engine":{"max_iterations":12},"providers":{"openai":{"model":"gpt-4o","enabled":true}}}`,
		"config.yaml": "app:\n  name: bot\nengine:\n  max_iterations: 12\nproviders:\n  openai:\n    model: gpt-4o\n    enabled: true\n",
		"config.toml": "[app]\nname = \"bot\"\n[engine]\nmax_iterations = 12\n[providers.openai]\nmodel = \"gpt-4o\"\nenabled = true\n",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadConfig(writeFile(t, name, content))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if cfg.App.Name != "bot" {
				t.Errorf("expected app name bot, got %q", cfg.App.Name)
			}
			if cfg.Engine.MaxIterations != 12 {
				t.Errorf("expected max iterations 12, got %d", cfg.Engine.MaxIterations)
			}
			pName, p := cfg.GetDefaultProvider()
			if pName != "openai" || p.Model != "gpt-4o" {
				t.Errorf("unexpected provider %q %+v", pName, p)
			}
		})
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Engine.MaxIterations != 50 || cfg.Engine.GoalBatchSize != 3 || cfg.Engine.CyclePauseSeconds != 30 {
		t.Errorf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Storage.Backlog == "" || cfg.Storage.Ledger == "" {
		t.Errorf("storage defaults not applied: %+v", cfg.Storage)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	if _, err := LoadConfig(writeFile(t, "config.json", "{")); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MAX_ITERATIONS":      "7",
		"GOAL_BATCH_SIZE":     "5",
		"CYCLE_PAUSE_SECONDS": "0",
		"LLM_PROVIDER":        "Anthropic",
		"ANTHROPIC_API_KEY":   "sk-test",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Engine.MaxIterations != 7 || cfg.Engine.GoalBatchSize != 5 || cfg.Engine.CyclePauseSeconds != 0 {
		t.Errorf("env overrides not applied: %+v", cfg.Engine)
	}
	name, p := cfg.GetDefaultProvider()
	if name != "anthropic" {
		t.Errorf("expected anthropic provider, got %q", name)
	}
	if p.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", p.APIKey)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "MAX_ITERATIONS" {
			return "lots", true
		}
		return "", false
	})
	if err == nil {
		t.Errorf("expected error for non-numeric MAX_ITERATIONS")
	}
	if err := Default().ApplyEnv(noEnv); err != nil {
		t.Errorf("empty env should not fail: %v", err)
	}
}

func TestGetGatewayConfig(t *testing.T) {
	cfg := Default()
	cfg.Gateways["telegram"] = GatewayConfig{Token: "t", Enabled: true, Notify: []string{"42"}}
	cfg.Gateways["discord"] = GatewayConfig{Token: "d", Enabled: false}

	if tg, ok := cfg.GetTelegramConfig(); !ok || tg.Notify[0] != "42" {
		t.Errorf("expected telegram enabled, got %+v %v", tg, ok)
	}
	if _, ok := cfg.GetDiscordConfig(); ok {
		t.Errorf("expected discord disabled")
	}
}
