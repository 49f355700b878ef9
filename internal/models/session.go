package models

import "time"

// AgentType identifies which coding agent CLI a session drives
type AgentType string

const (
	// AgentClaude is the Anthropic Claude Code CLI. It accepts a
	// caller-supplied conversation id on first start (--session-id) and
	// resumes by id (--resume).
	AgentClaude AgentType = "claude"
	// AgentCopilot is the GitHub Copilot CLI. It invents its own
	// conversation ids; we discover them from its session-state directory.
	AgentCopilot AgentType = "copilot"
)

// Valid reports whether the agent type is one we know how to spawn
func (a AgentType) Valid() bool {
	return a == AgentClaude || a == AgentCopilot
}

// Session is the persisted description of a logical conversation with an
// agent CLI. The PTY attached to it lives only in memory; a session outlives
// any number of PTY starts and resumes.
type Session struct {
	ID             string    `json:"id"`
	Agent          AgentType `json:"agent"`
	WorkspaceID    string    `json:"workspace_id"`
	WorkspacePath  string    `json:"workspace_path"`
	FriendlyName   string    `json:"friendly_name,omitempty"`
	BranchName     string    `json:"branch_name,omitempty"`
	Interactive    bool      `json:"interactive"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
