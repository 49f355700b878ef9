package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/models"
)

// SessionStore persists session metadata as one JSON file per session under
// stateDir/sessions. It is the engine's PersistConversationID target.
type SessionStore struct {
	dir string
	mu  sync.RWMutex
}

// NewSessionStore creates a session store rooted at stateDir
func NewSessionStore(stateDir string) (*SessionStore, error) {
	dir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session state directory: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

func (s *SessionStore) filePath(sessionID string) string {
	// Session ids are uuids we mint, but sanitize anyway
	sanitized := strings.ReplaceAll(sessionID, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", sanitized))
}

// Save writes a session's metadata to disk
func (s *SessionStore) Save(session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(session)
}

func (s *SessionStore) writeLocked(session *models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(s.filePath(session.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Load reads one session's metadata. Returns nil, nil when it doesn't exist.
func (s *SessionStore) Load(sessionID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readLocked(sessionID)
}

func (s *SessionStore) readLocked(sessionID string) (*models.Session, error) {
	data, err := os.ReadFile(s.filePath(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// List returns every persisted session, newest first
func (s *SessionStore) List() ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session state directory: %w", err)
	}

	sessions := make([]*models.Session, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		session, err := s.readLocked(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil || session == nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ListByWorkspace returns the persisted sessions for one workspace
func (s *SessionStore) ListByWorkspace(workspaceID string) ([]*models.Session, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	sessions := make([]*models.Session, 0, len(all))
	for _, session := range all {
		if session.WorkspaceID == workspaceID {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// Delete removes a session's metadata. Missing files are not an error.
func (s *SessionStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.filePath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// PersistConversationID records the CLI's conversation id on the session so
// a later start can resume it
func (s *SessionStore) PersistConversationID(sessionID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.readLocked(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}
	session.ConversationID = conversationID
	session.UpdatedAt = time.Now()
	return s.writeLocked(session)
}
