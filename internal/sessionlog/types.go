package sessionlog

import "time"

// Summary is the lightweight listing view of a session; only the meta line
// and the first user message are parsed to produce it.
type Summary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	Cwd        string    `json:"cwd,omitempty"`
	Originator string    `json:"originator,omitempty"`
	CliVersion string    `json:"cliVersion,omitempty"`
}

// Message is one reconstructed conversation entry. Messages are derived from
// the log on every read and never persisted.
type Message struct {
	Role   string       `json:"role"`
	Text   string       `json:"text"`
	Images []string     `json:"images,omitempty"`
	Trace  []TraceEntry `json:"trace,omitempty"`
}

// TraceEntry is a unit of execution trace attached to an assistant message.
// Kind is "command" (tool invocation) or "reasoning" (summary text).
type TraceEntry struct {
	Kind     string `json:"kind"`
	Tool     string `json:"tool,omitempty"`
	Command  string `json:"command,omitempty"`
	Status   string `json:"status,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Output   string `json:"output,omitempty"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text,omitempty"`
}

// SettingsSnapshot holds the most recent approval/sandbox values found near
// the end of a session log.
type SettingsSnapshot struct {
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	Sandbox        string `json:"sandbox,omitempty"`
}
