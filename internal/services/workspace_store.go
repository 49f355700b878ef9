package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/models"
)

// WorkspaceStore persists registered workspaces in one JSON file
type WorkspaceStore struct {
	path string

	mu         sync.RWMutex
	workspaces map[string]*models.Workspace
}

// NewWorkspaceStore loads (or initializes) the workspace registry at
// stateDir/workspaces.json
func NewWorkspaceStore(stateDir string) (*WorkspaceStore, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	store := &WorkspaceStore{
		path:       filepath.Join(stateDir, "workspaces.json"),
		workspaces: make(map[string]*models.Workspace),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *WorkspaceStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read workspaces file: %w", err)
	}
	var list []*models.Workspace
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("failed to unmarshal workspaces: %w", err)
	}
	for _, ws := range list {
		s.workspaces[ws.ID] = ws
	}
	return nil
}

func (s *WorkspaceStore) saveLocked() error {
	list := make([]*models.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		list = append(list, ws)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspaces: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write workspaces file: %w", err)
	}
	return nil
}

// Add registers a directory as a workspace. The path must exist and be a
// directory.
func (s *WorkspaceStore) Add(name, path string) (*models.Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceMissing, abs)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	ws := &models.Workspace{
		ID:        uuid.New().String(),
		Name:      name,
		Path:      abs,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
	if err := s.saveLocked(); err != nil {
		delete(s.workspaces, ws.ID)
		return nil, err
	}
	return ws, nil
}

// Get returns a workspace by id, or nil
func (s *WorkspaceStore) Get(id string) *models.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspaces[id]
}

// List returns all registered workspaces
func (s *WorkspaceStore) List() []*models.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*models.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		list = append(list, ws)
	}
	return list
}

// Delete removes a workspace registration. The directory itself is left
// alone.
func (s *WorkspaceStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[id]; !ok {
		return fmt.Errorf("workspace %s not found", id)
	}
	delete(s.workspaces, id)
	return s.saveLocked()
}
