package services

import "errors"

var (
	// ErrWorkspaceMissing means the session's workspace path does not exist
	// or is not a directory
	ErrWorkspaceMissing = errors.New("workspace directory does not exist")
	// ErrSpawnFailed means the agent CLI could not be launched
	ErrSpawnFailed = errors.New("failed to spawn agent process")
	// ErrNotAttached means an operation referenced a session with no live PTY
	ErrNotAttached = errors.New("no active PTY session")
)
