package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
)

// Process is a spawned command. Output carries its stdout and stderr lines
// and is closed when the process exits; lines are dropped rather than
// blocking the process when nobody reads.
type Process struct {
	cmd      *exec.Cmd
	output   chan string
	done     chan struct{}
	exitCode int
	exitErr  error
	dropped  atomic.Int64
}

func (p *Process) Output() <-chan string { return p.output }

// Wait blocks until the process exits and returns its exit code. A non-zero
// exit is reported through the code, not the error.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.done:
	}
	var exitErr *exec.ExitError
	if errors.As(p.exitErr, &exitErr) {
		return p.exitCode, nil
	}
	return p.exitCode, p.exitErr
}

func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

// Dropped is the number of output lines discarded because Output was full.
func (p *Process) Dropped() int64 { return p.dropped.Load() }
