package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EnvErrorKind classifies host-level failures that prevented a command from
// producing an Outcome.
type EnvErrorKind int

const (
	ExecutableNotFound EnvErrorKind = iota + 1
	SpawnFailure
	TimedOut
	Canceled
)

func (k EnvErrorKind) String() string {
	switch k {
	case ExecutableNotFound:
		return "executable_not_found"
	case SpawnFailure:
		return "spawn_failure"
	case TimedOut:
		return "timed_out"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// EnvironmentError is a recoverable, per-call failure. It never describes a
// command that ran and exited non-zero; that is a normal Outcome.
type EnvironmentError struct {
	Kind    EnvErrorKind
	Name    string
	Timeout time.Duration
	Err     error
}

func (e *EnvironmentError) Error() string {
	switch e.Kind {
	case ExecutableNotFound:
		n := strings.ToUpper(e.Name)
		return fmt.Sprintf("%s executable not found. Please ensure %s is installed and in your PATH.", n, n)
	case SpawnFailure:
		return fmt.Sprintf("failed to start %s: %v", e.Name, e.Err)
	case TimedOut:
		return fmt.Sprintf("command timed out after %s", e.Timeout)
	case Canceled:
		return "command canceled"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "environment error"
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// IsKind reports whether err is an EnvironmentError of the given kind.
func IsKind(err error, kind EnvErrorKind) bool {
	var ee *EnvironmentError
	return errors.As(err, &ee) && ee.Kind == kind
}
