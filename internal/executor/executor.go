// Package executor runs the interpreter against the entry script and maps
// the child process result to an Outcome.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/artisan-mcp/artisan-mcp/internal/shellwords"
)

const defaultKillGrace = 2 * time.Second

// Invocation describes one child process.
type Invocation struct {
	// ID correlates log lines and audit events; optional.
	ID string

	Interpreter string
	EntryScript string
	WorkingDir  string
	Args        []string
}

// Argv is the full argument vector: interpreter, entry script, then Args.
func (inv Invocation) Argv() []string {
	argv := make([]string, 0, len(inv.Args)+2)
	argv = append(argv, inv.Interpreter, inv.EntryScript)
	return append(argv, inv.Args...)
}

// Outcome is the result of a child that ran to completion, whatever its
// exit status.
type Outcome struct {
	Succeeded bool
	Stdout    string
	Stderr    string
	ExitCode  int

	PID      int
	Argv     []string
	Duration time.Duration

	StdoutTruncated bool
	StderrTruncated bool
}

type Options struct {
	// Timeout bounds a single execution; zero disables it.
	Timeout time.Duration
	// MaxOutputBytes caps each captured stream; zero means unlimited.
	MaxOutputBytes int64
	// KillGrace is the delay between SIGTERM and SIGKILL on timeout.
	KillGrace time.Duration
}

// Runner spawns child processes. It holds no per-call state and is safe for
// concurrent use.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) *Runner {
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	return &Runner{opts: opts}
}

// Execute runs inv and blocks until the child exits and its output has been
// drained. A non-zero exit is reported in the Outcome, not as an error.
//
// When the timeout fires or ctx is canceled first, the child's process group
// is terminated, any partial output is discarded, and an EnvironmentError of
// kind TimedOut or Canceled is returned.
func (r *Runner) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if r.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	argv := inv.Argv()
	slog.Info("executing", "exec_id", inv.ID, "command", shellwords.Join(argv), "cwd", inv.WorkingDir)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = inv.WorkingDir
	configureProcessGroup(cmd)

	stdoutW := newCaptureWriter(r.opts.MaxOutputBytes)
	stderrW := newCaptureWriter(r.opts.MaxOutputBytes)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		slog.Error("failed to execute command", "exec_id", inv.ID, "error", err)
		return Outcome{}, &EnvironmentError{Kind: SpawnFailure, Name: argv[0], Err: err}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		select {
		case waitErr = <-waitCh:
		default:
			killProcessGroup(cmd, r.opts.KillGrace)
			<-waitCh
			slog.Warn("command terminated", "exec_id", inv.ID, "pid", cmd.Process.Pid, "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Outcome{}, &EnvironmentError{Kind: TimedOut, Name: argv[0], Timeout: r.opts.Timeout, Err: ctx.Err()}
			}
			return Outcome{}, &EnvironmentError{Kind: Canceled, Name: argv[0], Err: ctx.Err()}
		}
	}

	out := Outcome{
		Stdout:          strings.ToValidUTF8(stdoutW.String(), "\uFFFD"),
		Stderr:          strings.ToValidUTF8(stderrW.String(), "\uFFFD"),
		PID:             cmd.Process.Pid,
		Argv:            argv,
		Duration:        time.Since(start),
		StdoutTruncated: stdoutW.truncated,
		StderrTruncated: stderrW.truncated,
	}

	var ee *exec.ExitError
	switch {
	case waitErr == nil:
		out.ExitCode = 0
	case errors.As(waitErr, &ee):
		out.ExitCode = exitCodeFromProcessState(ee.ProcessState)
	default:
		return Outcome{}, &EnvironmentError{Kind: SpawnFailure, Name: argv[0], Err: waitErr}
	}
	out.Succeeded = out.ExitCode == 0

	slog.Debug("command finished", "exec_id", inv.ID, "exit_code", out.ExitCode, "duration", out.Duration)
	return out, nil
}
