package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/models"
)

// AgentCommand is the fully resolved invocation for one agent CLI start
type AgentCommand struct {
	Argv []string
	Env  []string

	// ResumeProbe is set when the spawn is a claude resume attempt; the
	// engine watches early output for the stale-conversation marker and
	// silently restarts with a fresh conversation if it appears.
	ResumeProbe bool

	// DiscoverConversation is set when the CLI invents its own conversation
	// id; BeforeIDs is the pre-spawn snapshot of its session-state
	// directory used to spot the new one.
	DiscoverConversation bool
	BeforeIDs            map[string]struct{}
}

// BuildAgentCommand resolves argv and env for a session start.
//
// claude accepts a caller-chosen conversation id, so the first start passes
// our session id with --session-id and later starts resume it. copilot only
// resumes ids it invented itself; on a fresh start we snapshot its
// session-state directory and poll for the new subdirectory after spawn.
func BuildAgentCommand(session *models.Session, prompt string, resume bool) (*AgentCommand, error) {
	cmd := &AgentCommand{
		Env: append(os.Environ(),
			"TERM=xterm-256color",
			"FORCE_COLOR=1",
		),
	}

	switch session.Agent {
	case models.AgentClaude:
		args := []string{"claude"}
		if config.Runtime.IsDockerized() {
			args = append(args, "--dangerously-skip-permissions")
		}
		if resume && session.ConversationID != "" {
			args = append(args, "--resume", session.ConversationID)
			cmd.ResumeProbe = true
		} else {
			args = append(args, "--session-id", session.ID)
		}
		if prompt != "" {
			args = append(args, prompt)
		}
		cmd.Argv = args

	case models.AgentCopilot:
		args := []string{"copilot"}
		if config.Runtime.IsDockerized() {
			args = append(args, "--allow-all-tools")
		}
		if resume && session.ConversationID != "" {
			args = append(args, "--resume", session.ConversationID)
		} else {
			cmd.DiscoverConversation = true
			cmd.BeforeIDs = snapshotCopilotSessions()
		}
		if prompt != "" {
			args = append(args, prompt)
		}
		cmd.Argv = args

	default:
		return nil, fmt.Errorf("unknown agent type: %q", session.Agent)
	}

	return cmd, nil
}

// CopilotStateDir is where the copilot CLI records each conversation as a
// subdirectory named by its id
func CopilotStateDir() string {
	return filepath.Join(config.Runtime.HomeDir, ".copilot", "session-state")
}

// snapshotCopilotSessions lists the conversation ids present before spawn
func snapshotCopilotSessions() map[string]struct{} {
	ids := make(map[string]struct{})
	entries, err := os.ReadDir(CopilotStateDir())
	if err != nil {
		return ids
	}
	for _, entry := range entries {
		if entry.IsDir() {
			ids[entry.Name()] = struct{}{}
		}
	}
	return ids
}

// findNewCopilotSession returns a subdirectory that was not in the snapshot,
// or "" if none has appeared yet
func findNewCopilotSession(beforeIDs map[string]struct{}) string {
	entries, err := os.ReadDir(CopilotStateDir())
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, seen := beforeIDs[entry.Name()]; !seen {
			return entry.Name()
		}
	}
	return ""
}
