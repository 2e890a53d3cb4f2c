package types

import "time"

// Event types recorded by the gateway.
const (
	EventCommandExecuted = "command_executed"
	EventCommandFailed   = "command_failed"
	EventCommandRejected = "command_rejected"
	EventCommandError    = "command_error"
)

type PolicyInfo struct {
	Decision Decision `json:"decision,omitempty"`
	// Rule is the allow-list prefix that matched, empty on deny.
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message,omitempty"`
}

type Event struct {
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Type      string      `json:"type"`
	ExecID    string      `json:"exec_id,omitempty"`
	Source    string      `json:"source,omitempty"`
	Policy    *PolicyInfo `json:"policy,omitempty"`

	// Request as received from the caller.
	Command string `json:"command,omitempty"`

	// Populated once a child process was started.
	Argv       []string `json:"argv,omitempty"`
	WorkingDir string   `json:"working_dir,omitempty"`
	PID        int      `json:"pid,omitempty"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`

	// Set when the audit log is sealed into an HMAC chain.
	Integrity *Integrity `json:"integrity,omitempty"`
}

// Integrity links an event to its predecessor in the audit chain.
type Integrity struct {
	Sequence  int64  `json:"sequence"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

type EventQuery struct {
	ExecID string
	Types  []string
	Since  *time.Time
	Until  *time.Time

	Decision *Decision

	CommandLike string
	TextLike    string

	Limit  int
	Offset int
	Asc    bool
}
