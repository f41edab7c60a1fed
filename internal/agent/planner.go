package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/autopilot/internal/llm"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrPlanParse means the model's planning response was not a usable plan.
var ErrPlanParse = errors.New("plan could not be parsed")

const maxPlanSteps = 12

const planSchemaURL = "https://autopilot.schemas.local/plan.schema.json"

const planSchema = `{
  "type": "object",
  "required": ["plan"],
  "properties": {
    "goal_understood": {"type": ["string", "null"]},
    "plan": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "index": {"type": ["integer", "null"]},
          "description": {"type": "string", "minLength": 1},
          "capability": {"type": ["string", "null"]},
          "skill": {"type": ["string", "null"]},
          "params": {"type": ["object", "null"]},
          "rationale": {"type": ["string", "null"]},
          "reason": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var compiledPlanSchema = mustCompilePlanSchema()

func mustCompilePlanSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(planSchemaURL, strings.NewReader(planSchema)); err != nil {
		panic(fmt.Sprintf("plan schema load failed: %v", err))
	}
	schema, err := c.Compile(planSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("plan schema compile failed: %v", err))
	}
	return schema
}

type rawPlan struct {
	GoalUnderstood string    `json:"goal_understood"`
	Plan           []rawStep `json:"plan"`
}

// rawStep accepts both the current field names and the older skill/reason
// spelling some prompts still produce.
type rawStep struct {
	Index       *int           `json:"index"`
	Description string         `json:"description"`
	Capability  *string        `json:"capability"`
	Skill       *string        `json:"skill"`
	Params      map[string]any `json:"params"`
	Rationale   string         `json:"rationale"`
	Reason      string         `json:"reason"`
}

// ParsePlan validates a planning response and turns it into plan steps.
// Indexes are kept when they are unique and non-negative, otherwise steps
// are renumbered by position.
func ParsePlan(response string) (string, []*PlanStep, error) {
	raw, err := llm.ExtractJSON(response)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	if err := compiledPlanSchema.Validate(doc); err != nil {
		return "", nil, fmt.Errorf("%w: schema validation failed: %v", ErrPlanParse, err)
	}

	var p rawPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrPlanParse, err)
	}
	if len(p.Plan) > maxPlanSteps {
		log.Printf("[Planner] Plan has %d steps, keeping the first %d", len(p.Plan), maxPlanSteps)
		p.Plan = p.Plan[:maxPlanSteps]
	}

	steps := make([]*PlanStep, 0, len(p.Plan))
	seen := make(map[int]bool, len(p.Plan))
	renumber := false
	for i, rs := range p.Plan {
		idx := i
		if rs.Index != nil {
			idx = *rs.Index
		}
		if idx < 0 || seen[idx] {
			renumber = true
		}
		seen[idx] = true

		capName := ""
		switch {
		case rs.Capability != nil:
			capName = *rs.Capability
		case rs.Skill != nil:
			capName = *rs.Skill
		}
		capName = strings.TrimSpace(capName)
		if strings.EqualFold(capName, "null") || strings.EqualFold(capName, "none") {
			capName = ""
		}

		rationale := rs.Rationale
		if rationale == "" {
			rationale = rs.Reason
		}
		params := rs.Params
		if params == nil {
			params = map[string]any{}
		}
		steps = append(steps, &PlanStep{
			Index:       idx,
			Description: rs.Description,
			Capability:  capName,
			Params:      params,
			Rationale:   rationale,
			Status:      StepPending,
		})
	}
	if renumber {
		for i, s := range steps {
			s.Index = i
		}
	}
	return p.GoalUnderstood, steps, nil
}

// plan asks the model for a plan. failure is the context of a replan and is
// empty on the first attempt.
func (e *Engine) plan(ctx context.Context, s *Session, memory, extra, failure string) ([]*PlanStep, error) {
	ctx, span := e.startPhaseSpan(ctx, "plan", s)
	var err error
	defer func() { endPhaseSpan(span, err) }()

	if memory == "" {
		memory = "No relevant context."
	}
	system, err := e.prompts.Render(PromptPlanner, map[string]string{
		"capabilities": e.caps.Describe(e.advisor),
		"memory":       memory,
	})
	if err != nil {
		return nil, err
	}
	if persona := e.prompts.Persona(); persona != "" {
		system = persona + "\n\n---\n\n" + system
	}

	user := "Create a plan for: " + s.Goal
	if extra != "" {
		user += "\n\nContext: " + extra
	}
	if failure != "" {
		user += "\n\nContext: " + failure
	}

	resp, err := e.model.Query(ctx, []llm.Message{llm.System(system), llm.User(user)}, true)
	if err != nil {
		return nil, err
	}
	understood, steps, err := ParsePlan(resp)
	if err != nil {
		log.Printf("[Planner] No valid plan: %v (response: %s)", err, truncate(resp, 200))
		return nil, err
	}
	if understood != "" {
		e.update(func() { s.Understood = understood })
	}
	e.logger.LogPlan(s.ID, s.Replans, steps)
	return steps, nil
}
