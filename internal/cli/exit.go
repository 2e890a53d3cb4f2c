package cli

import "fmt"

// Process exit codes beyond the generic 1 used for any returned error.
const (
	exitReplyNotOK  = 1
	exitChainBroken = 2
)

// ExitError carries a process exit code out of a command. An empty message
// means the command already printed what went wrong.
type ExitError struct {
	code    int
	message string
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{code: code, message: message}
}

func (e *ExitError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.message != "":
		return e.message
	default:
		return fmt.Sprintf("exit status %d", e.code)
	}
}

// Code defaults to 1 for a nil receiver so callers can use it unchecked.
func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
