// Command artisan-mcp exposes whitelisted Laravel artisan commands to MCP
// clients over stdio and HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artisan-mcp/artisan-mcp/internal/cli"
	"github.com/artisan-mcp/artisan-mcp/internal/config"
)

const progName = "artisan-mcp"

var (
	version = "dev"
	commit  = "unknown"
)

func versionString() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	c := strings.TrimSpace(commit)
	if c == "" || strings.EqualFold(c, "unknown") {
		return v
	}
	// git-describe output may already carry the commit.
	if strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

// exitCode reports err on stderr and picks the process exit status. A
// misconfigured project aborts with its error kind so wrappers can tell a
// bad ARTISAN_DIRECTORY from a failed command.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *cli.ExitError
	if errors.As(err, &ee) {
		if msg := ee.Message(); msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		return ee.Code()
	}
	var ce *config.ConfigurationError
	if errors.As(err, &ce) {
		fmt.Fprintf(stderr, "%s: configuration error (%s): %v\n", progName, ce.Kind, err)
		return 1
	}
	fmt.Fprintf(stderr, "%s: %v\n", progName, err)
	return 1
}

func main() {
	err := cli.NewRoot(versionString()).ExecuteContext(context.Background())
	if code := exitCode(err, os.Stderr); code != 0 {
		os.Exit(code)
	}
}
