package backlog

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/autopilot/internal/llm"
)

// DefaultGoalPrompt is the system prompt for goal generation. The tokens
// {capabilities}, {past_goals}, {knowledge}, {weaknesses} and {count} are
// substituted before sending.
const DefaultGoalPrompt = `You are the goal engine of an autonomous agent. You are the agent itself, choosing what to work on next.

The agent runs unattended in an isolated workspace. Its purpose is to gather experience and steadily extend what it can do.

{capabilities}

Recent goals and outcomes:
{past_goals}

Known facts (long-term memory):
{knowledge}

Current weaknesses:
{weaknesses}

Generate {count} new goals that genuinely move the agent forward. Goals must be
concrete and executable, extend the agent's abilities measurably, cover
different categories and build on each other where sensible.

Answer ONLY with valid JSON:
{
  "goals": [
    {
      "goal": "One concrete sentence",
      "category": "self_expand|self_improve|explore|reflect|interact|create",
      "priority": 8,
      "reasoning": "Why this goal matters now"
    }
  ]
}`

// Templates are the fallback goals per category.
var Templates = map[Category][]string{
	CategorySelfExpand: {
		"Create a scripted capability that counts lines, words and characters of a workspace file",
		"Create a scripted capability that lists the largest files in the workspace",
		"Create a scripted capability that reports the current date, time and timezone",
		"Build a capability that fetches a web page and stores its summary in memory",
		"Create a scripted capability that checks whether a host answers on a TCP port",
	},
	CategorySelfImprove: {
		"Review the capability reliability table and retry the least reliable capability with simple inputs",
		"Analyse the last failed sessions and write down what went wrong in reflections.md",
		"Inspect every scripted capability for errors and repair the broken ones",
		"Document which kinds of plan steps fail most often and how to avoid them",
	},
	CategoryExplore: {
		"Search the web for recent developments in autonomous agents and note three findings",
		"Explore the workspace directory and write an inventory of its files",
		"Find a public API that needs no key, call it once and document the response",
		"Read the system status and record the host's CPU and memory profile in memory",
	},
	CategoryReflect: {
		"Write a short reflection on the goals completed so far and identify patterns",
		"Analyse which goal categories succeed most often and store the result in memory",
		"Formulate five working principles based on past sessions and save them",
		"Assess the current skill set and prioritise the next three improvements",
	},
	CategoryInteract: {
		"Send the operator a short status report of the last completed goals",
		"Ask the operator which topic the agent should explore next",
	},
	CategoryCreate: {
		"Write documentation of all available capabilities with an example each",
		"Produce a technical report on recent session performance and save it to the workspace",
		"Create a glossary of terms the agent has learned and store it as glossary.md",
		"Build a knowledge index that links the facts stored in memory",
	},
}

// GenerateInput is the context handed to the goal prompt.
type GenerateInput struct {
	Capabilities string
	Knowledge    string
	Weaknesses   string
	Recent       []Goal
	// Existing holds goal texts that must not be produced again.
	Existing []Goal
}

// Generator proposes new goals through the model, falling back to templates.
type Generator struct {
	Querier llm.Querier
	Prompt  string

	mu   sync.Mutex
	rand *rand.Rand
}

func NewGenerator(q llm.Querier) *Generator {
	return &Generator{
		Querier: q,
		Prompt:  DefaultGoalPrompt,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes template sampling deterministic.
func (g *Generator) Seed(seed int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rand = rand.New(rand.NewSource(seed))
}

// Generate returns up to count goals whose text differs, ignoring case, from
// every incomplete goal in in.Existing and from each other.
func (g *Generator) Generate(ctx context.Context, count int, in GenerateInput) []*Goal {
	if count <= 0 {
		return nil
	}
	existing := make(map[string]bool)
	for _, e := range in.Existing {
		if !e.Completed {
			existing[normalize(e.Goal)] = true
		}
	}

	if g.Querier != nil {
		goals, err := g.viaModel(ctx, count, in, existing)
		if err != nil {
			log.Printf("[Goals] Model generation failed, using templates: %v", err)
		} else if len(goals) > 0 {
			log.Printf("[Goals] %d goals generated by model", len(goals))
			return goals
		}
	}
	goals := g.fromTemplates(count, existing)
	log.Printf("[Goals] %d goals generated from templates", len(goals))
	return goals
}

type generatedGoal struct {
	Goal      string `json:"goal"`
	Category  string `json:"category"`
	Priority  any    `json:"priority"`
	Reasoning string `json:"reasoning"`
}

func (g *Generator) viaModel(ctx context.Context, count int, in GenerateInput, existing map[string]bool) ([]*Goal, error) {
	prompt := g.Prompt
	if prompt == "" {
		prompt = DefaultGoalPrompt
	}
	capabilities := in.Capabilities
	capabilities = clip(capabilities, 2000)
	knowledge := in.Knowledge
	if knowledge == "" {
		knowledge = "Nothing relevant in memory."
	}
	knowledge = clip(knowledge, 500)
	weaknesses := in.Weaknesses
	if weaknesses == "" {
		weaknesses = "No known weaknesses."
	}
	prompt = strings.NewReplacer(
		"{capabilities}", capabilities,
		"{past_goals}", SummarizeGoals(in.Recent),
		"{knowledge}", knowledge,
		"{weaknesses}", weaknesses,
		"{count}", strconv.Itoa(count),
	).Replace(prompt)

	raw, err := g.Querier.Query(ctx, []llm.Message{
		llm.System(prompt),
		llm.User(fmt.Sprintf("Generate %d new goals.", count)),
	}, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Goals []generatedGoal `json:"goals"`
	}
	if err := llm.ParseJSON(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse goals: %w", err)
	}

	var out []*Goal
	for _, item := range resp.Goals {
		text := strings.TrimSpace(item.Goal)
		if text == "" || existing[normalize(text)] {
			continue
		}
		existing[normalize(text)] = true
		out = append(out, &Goal{
			ID:        uuid.NewString(),
			Goal:      text,
			Category:  ParseCategory(item.Category),
			Priority:  ClampPriority(priorityOf(item.Priority)),
			Reasoning: item.Reasoning,
			CreatedAt: time.Now(),
		})
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func priorityOf(v any) int {
	switch p := v.(type) {
	case float64:
		return int(p)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			return n
		}
	}
	return 5
}

func (g *Generator) fromTemplates(count int, existing map[string]bool) []*Goal {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Goal
	for attempt := 0; attempt < count*3 && len(out) < count; attempt++ {
		cat := Categories[g.rand.Intn(len(Categories))]
		pool := Templates[cat]
		if len(pool) == 0 {
			continue
		}
		text := pool[g.rand.Intn(len(pool))]
		if existing[normalize(text)] {
			continue
		}
		existing[normalize(text)] = true
		out = append(out, &Goal{
			ID:        uuid.NewString(),
			Goal:      text,
			Category:  cat,
			Priority:  4 + g.rand.Intn(6),
			Reasoning: "Generated from template (model unavailable)",
			CreatedAt: time.Now(),
		})
	}
	return out
}

// SummarizeGoals renders goals one per line for prompts.
func SummarizeGoals(goals []Goal) string {
	if len(goals) == 0 {
		return "No previous goals; this is the first run."
	}
	var b strings.Builder
	for _, g := range goals {
		status := "[open]"
		if g.Completed {
			status = "[done]"
		}
		fmt.Fprintf(&b, "  %s [%s] %s (priority %d)\n", status, g.Category, clip(g.Goal, 70), g.Priority)
	}
	return strings.TrimRight(b.String(), "\n")
}

// clip keeps at most n runes of s.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
