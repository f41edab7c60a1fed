package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Prompt template names. A file named <name>.md in the prompts directory
// overrides the built-in default.
const (
	PromptPlanner   = "planner"
	PromptEvaluator = "evaluator"
	PromptSummary   = "summary"
	PromptDirect    = "direct"
	PromptGoals     = "goals"
)

var defaultPrompts = map[string]string{
	PromptPlanner:   plannerPrompt,
	PromptEvaluator: evaluatorPrompt,
	PromptSummary:   summaryPrompt,
	PromptDirect:    directPrompt,
}

// PromptManager serves the engine's prompt templates and the operator's
// persona files from a directory.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

func isTemplateFile(name string) bool {
	switch strings.TrimSuffix(name, ".md") {
	case PromptPlanner, PromptEvaluator, PromptSummary, PromptDirect, PromptGoals:
		return true
	}
	return false
}

// Persona joins every non-template .md file of the directory, identity and
// soul first. It returns "" when the directory is absent or empty.
func (pm *PromptManager) Persona() string {
	if pm == nil || pm.Directory == "" {
		return ""
	}
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[Prompts] Failed to read prompts directory: %v", err)
		}
		return ""
	}

	order := map[string]int{
		"identity.md":     1,
		"soul.md":         2,
		"capabilities.md": 3,
		"user.md":         4,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") || isTemplateFile(f.Name()) {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[Prompts] Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	return strings.Join(contents, "\n\n---\n\n")
}

// Override returns the operator's version of a template, if present.
func (pm *PromptManager) Override(name string) (string, bool) {
	if pm == nil || pm.Directory == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(pm.Directory, name+".md"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Template returns the override for name or its built-in default.
func (pm *PromptManager) Template(name string) (string, error) {
	if t, ok := pm.Override(name); ok {
		return t, nil
	}
	t, ok := defaultPrompts[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	return t, nil
}

// Render fills the {key} placeholders of template name.
func (pm *PromptManager) Render(name string, vars map[string]string) (string, error) {
	t, err := pm.Template(name)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t), nil
}

const plannerPrompt = `You are the planning module of an autonomous agent.
Your task: break the goal down into executable steps.

{capabilities}
Context from long-term memory:
{memory}

Answer ONLY with this JSON:
{
  "goal_understood": "your understanding of the goal",
  "plan": [
    {
      "index": 0,
      "description": "what is done",
      "capability": "capability_name or null",
      "params": {"param": "value"},
      "rationale": "why this step"
    }
  ]
}

Rules:
- At most 12 steps.
- Use null as capability when the step is best answered by reasoning alone.
- If no capability fits and one could be written, use create_capability.
- params is ALWAYS an object, never null.
- To use the output of an earlier step write OUTPUT_OF_STEP_<index> as the value.
- Be precise and direct; no unnecessary intermediate steps.`

const evaluatorPrompt = `You are the evaluator of an autonomous agent.

Goal: {goal}
Iteration: {iteration}

Steps so far:
{steps}

Latest result:
{last_result}

Answer ONLY with JSON:
{
  "goal_reached": true or false,
  "progress_percent": 0-100,
  "assessment": "what has been achieved",
  "next_action": "continue|retry|replan|abort",
  "reason": "why",
  "retry_hint": "on retry: what to change",
  "score": 0.0-10.0
}

Decision rules:
- goal_reached=true when the goal is fulfilled; give a score.
- abort only when the goal is truly impossible, not merely hard.
- retry: same step with a different approach or parameters.
- replan: an entirely new strategy.`

const summaryPrompt = `Summarise the outcome of this run.
Goal: {goal}
Status: {status}
Steps:
{steps}

Write a short, clear summary (2-4 sentences) of what was achieved.`

const directPrompt = `You are an autonomous agent. Carry out the following task and answer with the result only.`
