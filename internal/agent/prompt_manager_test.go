package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptManager_Persona(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"identity.md":     "Identity Content",
		"soul.md":         "Soul Content",
		"capabilities.md": "Capabilities Content",
		"user.md":         "User Content",
		"extra.md":        "Extra Content",
		"planner.md":      "Planner Template",
	}

	for name, content := range files {
		err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644)
		if err != nil {
			t.Fatal(err)
		}
	}

	pm := NewPromptManager(tempDir)
	prompt := pm.Persona()

	expectedParts := []string{
		"Identity Content",
		"Soul Content",
		"Capabilities Content",
		"User Content",
		"Extra Content",
	}

	for _, part := range expectedParts {
		if !strings.Contains(prompt, part) {
			t.Errorf("Prompt missing expected part: %s", part)
		}
	}
	if strings.Contains(prompt, "Planner Template") {
		t.Error("templates must not leak into the persona")
	}

	// Verify order
	if strings.Index(prompt, "Identity Content") >= strings.Index(prompt, "Soul Content") {
		t.Error("Identity should be before Soul")
	}
	if strings.Index(prompt, "Soul Content") >= strings.Index(prompt, "Capabilities Content") {
		t.Error("Soul should be before Capabilities")
	}
	if strings.Index(prompt, "Capabilities Content") >= strings.Index(prompt, "User Content") {
		t.Error("Capabilities should be before User")
	}
}

func TestPromptManager_MissingDirectory(t *testing.T) {
	pm := NewPromptManager(filepath.Join(t.TempDir(), "nope"))
	if got := pm.Persona(); got != "" {
		t.Errorf("expected empty persona, got %q", got)
	}
	tmpl, err := pm.Template(PromptPlanner)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tmpl, "{capabilities}") {
		t.Error("default planner template should carry the capabilities placeholder")
	}
}

func TestPromptManager_OverrideAndRender(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "summary.md"), []byte("Goal={goal} Status={status}"), 0644); err != nil {
		t.Fatal(err)
	}

	pm := NewPromptManager(tempDir)
	got, err := pm.Render(PromptSummary, map[string]string{"goal": "g", "status": "goal_reached"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Goal=g Status=goal_reached" {
		t.Errorf("unexpected render: %q", got)
	}

	if _, err := pm.Template("unknown"); err == nil {
		t.Error("expected error for unknown template")
	}
}
