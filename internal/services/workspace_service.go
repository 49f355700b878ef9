package services

import (
	"errors"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/agentdeck/agentdeck/internal/models"
)

// WorkspaceService resolves git state for workspaces and creates the
// per-session branches interactive sessions work on
type WorkspaceService struct {
	store *WorkspaceStore
}

// NewWorkspaceService creates a workspace service over the given store
func NewWorkspaceService(store *WorkspaceStore) *WorkspaceService {
	return &WorkspaceService{store: store}
}

// Store exposes the underlying registry
func (s *WorkspaceService) Store() *WorkspaceStore {
	return s.store
}

// Status returns a workspace with its git branch and head commit resolved.
// Non-git directories come back with those fields empty.
func (s *WorkspaceService) Status(ws *models.Workspace) models.WorkspaceStatus {
	status := models.WorkspaceStatus{Workspace: *ws}
	branch, head, err := currentBranch(ws.Path)
	if err != nil {
		return status
	}
	status.Branch = branch
	status.HeadCommit = head
	return status
}

// EnsureBranch creates branchName at HEAD if it doesn't already exist.
// Used when an interactive session is created with a branch name.
func (s *WorkspaceService) EnsureBranch(repoPath, branchName string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	refName := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(refName, true); err == nil {
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("failed to look up branch %s: %w", branchName, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	ref := plumbing.NewHashReference(refName, head.Hash())
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branchName, err)
	}
	return nil
}

func currentBranch(repoPath string) (branch, head string, err error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", "", err
	}
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return branch, ref.Hash().String(), nil
}
