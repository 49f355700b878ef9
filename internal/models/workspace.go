package models

import "time"

// Workspace is a registered directory that sessions run inside
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkspaceStatus is a workspace plus its resolved git state, as returned by
// the workspaces API. Branch and HeadCommit are empty when the directory is
// not a git repository.
type WorkspaceStatus struct {
	Workspace
	Branch     string `json:"branch,omitempty"`
	HeadCommit string `json:"head_commit,omitempty"`
}
