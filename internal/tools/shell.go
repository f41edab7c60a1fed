package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rahul/autopilot/internal/capability"
)

const maxShellOutput = 20000

type ShellTool struct {
	Dir string
}

func NewShellTool(dir string) *ShellTool {
	return &ShellTool{Dir: dir}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Execute a shell command in the workspace and return its combined output."
}

func (s *ShellTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "command", Description: "the shell command to execute", Required: true},
		{Name: "timeout_seconds", Type: "int", Description: "kill the command after this many seconds", Default: 120},
	}
}

func (s *ShellTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	command := strings.TrimSpace(capability.StringParam(params, "command"))
	if command == "" {
		return capability.Result{}, fmt.Errorf("empty command")
	}
	timeout, err := intParam(params, "timeout_seconds", 120)
	if err != nil {
		return capability.Result{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = s.Dir

	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if len(result) > maxShellOutput {
		result = result[:maxShellOutput] + "\n... (output truncated) ..."
	}
	if result == "" {
		result = "(no output)"
	}

	if err != nil {
		return capability.Result{}, fmt.Errorf("command failed: %v\nOutput: %s", err, result)
	}

	return text(result), nil
}
