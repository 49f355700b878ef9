package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/agentdeck/agentdeck/internal/models"
	"github.com/agentdeck/agentdeck/internal/services"
)

// WorkspacesHandler serves CRUD for registered workspaces
type WorkspacesHandler struct {
	workspaces *services.WorkspaceService
	sessions   *services.SessionStore
	engine     SessionEngine
}

// NewWorkspacesHandler creates the workspaces API handler
func NewWorkspacesHandler(workspaces *services.WorkspaceService, sessions *services.SessionStore, engine SessionEngine) *WorkspacesHandler {
	return &WorkspacesHandler{workspaces: workspaces, sessions: sessions, engine: engine}
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ListWorkspaces returns all workspaces with their resolved git state
func (h *WorkspacesHandler) ListWorkspaces(c *fiber.Ctx) error {
	list := h.workspaces.Store().List()
	result := make([]models.WorkspaceStatus, 0, len(list))
	for _, ws := range list {
		result = append(result, h.workspaces.Status(ws))
	}
	return c.JSON(result)
}

// GetWorkspace returns one workspace
func (h *WorkspacesHandler) GetWorkspace(c *fiber.Ctx) error {
	ws := h.workspaces.Store().Get(c.Params("id"))
	if ws == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workspace not found"})
	}
	return c.JSON(h.workspaces.Status(ws))
}

// CreateWorkspace registers a directory as a workspace
func (h *WorkspacesHandler) CreateWorkspace(c *fiber.Ctx) error {
	var req createWorkspaceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path is required"})
	}
	ws, err := h.workspaces.Store().Add(req.Name, req.Path)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(h.workspaces.Status(ws))
}

// DeleteWorkspace removes a workspace registration. Refused while any of the
// workspace's sessions still has a live PTY.
func (h *WorkspacesHandler) DeleteWorkspace(c *fiber.Ctx) error {
	id := c.Params("id")
	ws := h.workspaces.Store().Get(id)
	if ws == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workspace not found"})
	}

	sessions, err := h.sessions.ListByWorkspace(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	for _, session := range sessions {
		if h.engine.IsActive(session.ID) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "workspace has active sessions"})
		}
	}

	if err := h.workspaces.Store().Delete(id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "workspace deleted"})
}
