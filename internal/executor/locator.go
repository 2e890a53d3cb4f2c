package executor

import (
	"os/exec"
	"path/filepath"
)

// PathLocator finds executables on the host PATH. It does not cache, so a
// PATH change is picked up on the next call. Matches that only resolve
// relative to the current directory (exec.ErrDot) are rejected.
type PathLocator struct {
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

func (l PathLocator) Locate(name string) (string, error) {
	lookPath := l.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	p, err := lookPath(name)
	if err != nil {
		return "", &EnvironmentError{Kind: ExecutableNotFound, Name: name, Err: err}
	}
	if p == "" {
		return "", &EnvironmentError{Kind: ExecutableNotFound, Name: name, Err: exec.ErrNotFound}
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return p, nil
}
