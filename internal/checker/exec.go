package checker

import (
	"context"
	"os/exec"
	"time"
)

// CommandExecutor abstracts os/exec for testability.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) error
}

// osExecutor is the real CommandExecutor that uses os/exec.
// Output streams are left nil so both go to the null device.
type osExecutor struct{}

func (e *osExecutor) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	return cmd.Run()
}
