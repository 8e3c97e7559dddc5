// Package checker runs the configured check commands and reduces each run
// to up or down.
package checker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/hazz-dev/statusd/internal/config"
)

// Shell is the interpreter used for check commands.
const Shell = "/bin/sh"

// Checker performs a single health check.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

type commandChecker struct {
	svc      config.Service
	timeout  time.Duration
	shell    string
	executor CommandExecutor
}

// New returns a Checker that runs svc.Command through the shell. A zero
// timeout leaves the command unbounded.
func New(svc config.Service, timeout time.Duration) (Checker, error) {
	return NewWithExecutor(svc, timeout, Shell, &osExecutor{})
}

// NewWithExecutor creates a command checker with a custom shell and executor (for testing).
func NewWithExecutor(svc config.Service, timeout time.Duration, shell string, exec CommandExecutor) (Checker, error) {
	if svc.Command == "" {
		return nil, fmt.Errorf("service %q has no command", svc.Name)
	}
	return &commandChecker{svc: svc, timeout: timeout, shell: shell, executor: exec}, nil
}

func (c *commandChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		ServiceID:   c.svc.ID,
		ServiceName: c.svc.Name,
		CheckedAt:   start,
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := c.executor.Run(ctx, c.shell, "-c", c.svc.Command)
	result.Duration = time.Since(start)
	if err == nil {
		result.Status = StatusUp
		return result
	}

	result.Status = StatusDown
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Sprintf("timed out after %s", c.timeout)
	case errors.As(err, &exitErr):
		result.Error = exitErr.Error()
	default:
		// The command never ran; this still counts as a failed check.
		result.Error = fmt.Sprintf("launching check: %v", err)
	}
	return result
}
