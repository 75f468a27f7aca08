package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxCommandOutput = 50000

// RunCommand executes a whitelisted program inside the working directory.
// The command line is split on whitespace and run without a shell, so only
// the first word is subject to the allow-list.
type RunCommand struct {
	policy  *Policy
	allowed []string
	timeout time.Duration
}

func NewRunCommand(policy *Policy, allowed []string, timeout time.Duration) *RunCommand {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RunCommand{policy: policy, allowed: allowed, timeout: timeout}
}

func (c *RunCommand) Name() string { return "run_command" }
func (c *RunCommand) Description() string {
	if len(c.allowed) == 0 {
		return "Run a command in the working directory. No commands are currently allowed."
	}
	return "Run a command in the working directory (no shell). Allowed commands: " + strings.Join(c.allowed, ", ")
}
func (c *RunCommand) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The command line to run, e.g. \"git status\""}
		},
		"required": ["command"]
	}`)
}

func (c *RunCommand) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	fields := strings.Fields(params.Command)
	if len(fields) == 0 {
		return "", fmt.Errorf("command is required")
	}
	if !CommandAllowed(params.Command, c.allowed) {
		return "", fmt.Errorf("%s: %w", fields[0], ErrCommandNotAllowed)
	}
	dir, err := c.policy.Confine("")
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	out := string(output)
	if len(out) > maxCommandOutput {
		out = cut(out, maxCommandOutput) + "\n[Output truncated]"
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("command timed out after %s", c.timeout)
	}
	if err != nil {
		return out, fmt.Errorf("command failed: %w\nOutput: %s", err, out)
	}
	return out, nil
}
