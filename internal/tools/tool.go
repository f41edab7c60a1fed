// Package tools is the built-in capability library: workspace files, shell,
// web access, host status, memory, recurring goals, messaging and scripted
// capabilities defined in YAML.
package tools

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
)

// Deps are the collaborators the built-in capabilities need. Nil members
// leave the corresponding capabilities out.
type Deps struct {
	Workspace string
	Memory    MemoryStore
	Schedules ScheduleStore
	Messenger Messenger
	Scripts   *ScriptLoader
	Browser   bool
}

// RegisterBuiltins installs every capability whose dependencies are present.
func RegisterBuiltins(reg *capability.Registry, d Deps) {
	reg.Register(NewFilesystemTool(d.Workspace))
	reg.Register(NewShellTool(d.Workspace))
	reg.Register(NewScraperTool())
	reg.Register(NewSystemStatusTool())

	if search, err := NewSearchTool(); err != nil {
		log.Printf("[Tools] Search disabled: %v", err)
	} else {
		reg.Register(search)
	}
	if d.Browser {
		reg.Register(NewBrowserTool())
	}
	if d.Memory != nil {
		reg.Register(NewRememberTool(d.Memory))
		reg.Register(NewRecallTool(d.Memory))
	}
	if d.Schedules != nil {
		reg.Register(NewScheduleTool(d.Schedules))
	}
	if d.Messenger != nil {
		reg.Register(NewMessageTool(d.Messenger))
	}
	if d.Scripts != nil {
		reg.Register(NewCreateCapabilityTool(d.Scripts))
	}
}

func text(s string) capability.Result {
	return capability.Result{Text: s}
}

// intParam reads an integer that may arrive as a JSON number, an int or a
// numeric string.
func intParam(params map[string]any, name string, def int) (int, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", name, v)
	}
}
