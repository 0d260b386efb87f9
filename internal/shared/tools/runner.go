package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout applies when neither the command nor the runner sets one.
const DefaultTimeout = 60 * time.Second

// waitDelay bounds how long Wait keeps draining pipes after the process is killed.
const waitDelay = 2 * time.Second

// Command is one external tool invocation.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// Name returns the executable's base name for logs and errors.
func (c Command) Name() string {
	return filepath.Base(c.Path)
}

// Result is the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs external commands. Conversion strategies and the merge engine
// depend on this interface so they can be exercised without real binaries.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Runner executes commands with an enforced wall-clock timeout. It never
// touches the filesystem; intermediate files belong to the caller.
type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner creates a runner with the given default timeout
func NewRunner(timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		timeout: timeout,
		logger:  logger,
	}
}

// Run starts the process and waits for it. Spawn failures, non-zero exits and
// timeouts surface as ErrToolNotFound/ErrProcessStart, *ExitError and
// ErrProcessTimeout respectively. On timeout the process is killed; the
// deadline is released on every return path.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.WaitDelay = waitDelay

	var stdout, stderr cappedBuffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("Executing tool",
		zap.String("tool", cmd.Name()),
		zap.Strings("args", cmd.Args),
		zap.Duration("timeout", timeout),
	)

	start := time.Now()
	if err := c.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrToolNotFound, cmd.Path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessStart, cmd.Path, err)
	}

	err := c.Wait()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		r.logger.Warn("Tool timed out",
			zap.String("tool", cmd.Name()),
			zap.Duration("timeout", timeout),
		)
		return result, fmt.Errorf("%w: %s after %s", ErrProcessTimeout, cmd.Name(), timeout)
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("%s: %w", cmd.Name(), ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &ExitError{
			Tool:   cmd.Name(),
			Code:   exitErr.ExitCode(),
			Stderr: lastLine(result.Stderr),
		}
	}

	return result, fmt.Errorf("%s: %w", cmd.Name(), err)
}
