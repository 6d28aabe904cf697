// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/muster/lib/clock"
)

// SentinelFailure is the exit code reported when the workload could
// not be started, was killed by a signal, or its supervision failed.
const SentinelFailure = -1

var (
	// ErrNotStarted wraps the reason a command could not be started.
	ErrNotStarted = errors.New("workload did not start")

	// ErrSupervision means waiting on a started workload failed for a
	// reason other than the workload exiting.
	ErrSupervision = errors.New("workload supervision failed")
)

// Command describes the workload process.
type Command struct {
	// Path is the program to run, looked up in PATH when it contains
	// no slash.
	Path string

	Args []string

	// Env is added to the parent environment. A name already in the
	// parent environment takes the value given here.
	Env map[string]string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// Stdout and Stderr default to the parent's.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of one workload run.
type Result struct {
	// ExitCode is 0 on success, the child's code on a nonzero exit,
	// and SentinelFailure otherwise.
	ExitCode int

	// Err explains a SentinelFailure or a context cancellation. It is
	// nil for an ordinary exit, zero or not.
	Err error
}

// Succeeded reports whether the workload exited 0.
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

func sentinel(err error) Result { return Result{ExitCode: SentinelFailure, Err: err} }

// Launcher starts workloads. The zero value is usable: real clock,
// discarded logs, no settle delay, and SIGKILL immediately on
// cancellation.
type Launcher struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// SettleDelay is how long Launch waits after a successful start
	// before returning.
	SettleDelay time.Duration

	// StopGrace is the time between SIGTERM and SIGKILL when the
	// Launch context is canceled. Zero sends SIGKILL at once.
	StopGrace time.Duration
}

// Launch starts command and returns the channel its Result will be
// delivered on. The only error is an invalid Command; a command that
// fails to start is reported as a SentinelFailure Result.
func (l *Launcher) Launch(ctx context.Context, command Command) (<-chan Result, error) {
	if command.Path == "" {
		return nil, fmt.Errorf("workload command is empty")
	}
	clk := l.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	results := make(chan Result, 1)

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = environment(command.Env)
	cmd.Stdout = command.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = command.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// Own process group, so signals reach everything the command
	// spawns (negative pid addresses the group).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return l.stopGroup(cmd.Process.Pid, clk, logger) }
	if l.StopGrace > 0 {
		// Bounds Wait if grandchildren keep the output pipes open past
		// the SIGKILL.
		cmd.WaitDelay = 2 * l.StopGrace
	}

	if err := cmd.Start(); err != nil {
		logger.Error("workload failed to start", "path", command.Path, "error", err)
		results <- sentinel(fmt.Errorf("%w: %w", ErrNotStarted, err))
		close(results)
		return results, nil
	}
	logger.Info("workload started", "path", command.Path, "pid", cmd.Process.Pid)

	go supervise(ctx, cmd, results, logger)

	if l.SettleDelay > 0 {
		select {
		case <-clk.After(l.SettleDelay):
		case <-ctx.Done():
		}
	}
	return results, nil
}

// stopGroup sends SIGTERM to the process group and schedules SIGKILL
// after StopGrace. Without a grace period it sends SIGKILL directly.
func (l *Launcher) stopGroup(pid int, clk clock.Clock, logger *slog.Logger) error {
	group := -pid
	if l.StopGrace <= 0 {
		return unix.Kill(group, unix.SIGKILL)
	}
	logger.Info("stopping workload", "pid", pid, "grace", l.StopGrace)
	if err := unix.Kill(group, unix.SIGTERM); err != nil {
		return unix.Kill(group, unix.SIGKILL)
	}
	expired := clk.After(l.StopGrace)
	go func() {
		<-expired
		// ESRCH once the group has exited is expected.
		_ = unix.Kill(group, unix.SIGKILL)
	}()
	return nil
}

// supervise waits for cmd and delivers exactly one Result, including
// when Wait itself panics.
func supervise(ctx context.Context, cmd *exec.Cmd, results chan<- Result, logger *slog.Logger) {
	delivered := false
	deliver := func(result Result) {
		if delivered {
			return
		}
		delivered = true
		results <- result
		close(results)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("workload supervision panicked", "panic", recovered)
			deliver(sentinel(fmt.Errorf("%w: panic: %v", ErrSupervision, recovered)))
		}
	}()

	result := classify(ctx, cmd.Wait())
	logger.Info("workload exited", "exit_code", result.ExitCode)
	deliver(result)
}

// classify maps the error from exec.Cmd.Wait to a Result.
func classify(ctx context.Context, err error) Result {
	if err == nil {
		return Result{ExitCode: 0}
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		result := Result{ExitCode: exitError.ExitCode()}
		if result.ExitCode < 0 {
			result.ExitCode = SentinelFailure
			result.Err = fmt.Errorf("workload terminated: %s", exitError.ProcessState)
		}
		if ctx.Err() != nil {
			result.Err = fmt.Errorf("workload stopped: %w", context.Cause(ctx))
		}
		return result
	}
	return sentinel(fmt.Errorf("%w: %w", ErrSupervision, err))
}

// environment returns the parent environment with overrides applied,
// in a stable order.
func environment(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	env := os.Environ()
	for _, name := range names {
		env = append(env, name+"="+overrides[name])
	}
	return env
}
