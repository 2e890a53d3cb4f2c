package gateway

import (
	"fmt"
	"strings"
)

// Status tags a Reply so typed transports can flag failures.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusRejected Status = "rejected"
	StatusError    Status = "error"
)

// Reply is the text a caller receives from a gateway operation.
type Reply struct {
	Text   string
	Status Status
}

func (r Reply) IsError() bool { return r.Status != StatusOK }

const (
	noWhitelistText  = "No commands are whitelisted in the current configuration."
	whitelistHeading = "Whitelisted Artisan commands:"

	runErrorPrefix        = "Error executing command: "
	listFailurePrefix     = "Error listing commands: "
	listEnvironmentPrefix = "Failed to list commands: "
)

func renderWhitelist(prefixes []string) string {
	if len(prefixes) == 0 {
		return noWhitelistText
	}
	var b strings.Builder
	b.WriteString(whitelistHeading)
	for _, p := range prefixes {
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return b.String()
}

func renderRejection(command string, prefixes []string) string {
	return fmt.Sprintf("Error: Command '%s' is not whitelisted. Allowed commands: %s", command, strings.Join(prefixes, ", "))
}

// failureDetail picks what to show for a non-zero exit: stderr, else stdout,
// else the exit status.
func failureDetail(stderr, stdout string, exitCode int) string {
	if stderr != "" {
		return stderr
	}
	if stdout != "" {
		return stdout
	}
	return fmt.Sprintf("Command exited with status %d", exitCode)
}
