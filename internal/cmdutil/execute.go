package cmdutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, command string, args ...string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, command string, args ...string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, command string, args ...string) (string, error) {
	return f(ctx, command, args...)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string, args ...string) (string, error) {
	return ExecuteContext(ctx, command, args...)
}

// ExecuteContext runs a command bound to ctx. The command's stderr and exit
// status are part of the returned error.
func ExecuteContext(ctx context.Context, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("command %s failed: %s, %w", command, strings.TrimSpace(stderr.String()), err)
	}
	return out.String(), nil
}
