package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/models"
	"github.com/agentdeck/agentdeck/internal/services"
)

// SessionEngine is the slice of the PTY engine the session API drives
type SessionEngine interface {
	Start(session *models.Session, prompt string, resume bool) (*services.PtySession, error)
	Stop(sessionID string) bool
	IsActive(sessionID string) bool
	ListActive() []string
}

// SessionsHandler serves CRUD and start/stop for sessions
type SessionsHandler struct {
	store      *services.SessionStore
	workspaces *services.WorkspaceService
	engine     SessionEngine
}

// NewSessionsHandler creates the sessions API handler
func NewSessionsHandler(store *services.SessionStore, workspaces *services.WorkspaceService, engine SessionEngine) *SessionsHandler {
	return &SessionsHandler{store: store, workspaces: workspaces, engine: engine}
}

type createSessionRequest struct {
	Agent        string `json:"agent"`
	WorkspaceID  string `json:"workspaceId"`
	FriendlyName string `json:"friendlyName"`
	BranchName   string `json:"branchName"`
	Interactive  bool   `json:"interactive"`
}

type startSessionRequest struct {
	Prompt string `json:"prompt"`
	Resume bool   `json:"resume"`
}

type sessionResponse struct {
	*models.Session
	Active bool `json:"active"`
}

// ListSessions returns all persisted sessions with their live state
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.store.List()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	result := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		result = append(result, sessionResponse{Session: session, Active: h.engine.IsActive(session.ID)})
	}
	return c.JSON(result)
}

// GetSession returns one session
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.store.Load(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(sessionResponse{Session: session, Active: h.engine.IsActive(session.ID)})
}

// CreateSession registers a new session against a workspace
func (h *SessionsHandler) CreateSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	agent := models.AgentType(req.Agent)
	if !agent.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown agent type"})
	}

	ws := h.workspaces.Store().Get(req.WorkspaceID)
	if ws == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workspace not found"})
	}

	now := time.Now()
	session := &models.Session{
		ID:            uuid.New().String(),
		Agent:         agent,
		WorkspaceID:   ws.ID,
		WorkspacePath: ws.Path,
		FriendlyName:  req.FriendlyName,
		BranchName:    req.BranchName,
		Interactive:   req.Interactive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if req.Interactive && req.BranchName != "" {
		if err := h.workspaces.EnsureBranch(ws.Path, req.BranchName); err != nil {
			// Branch plumbing is best-effort; the session still works on
			// whatever is checked out
			logger.Warnf("failed to create branch %s in %s: %v", req.BranchName, ws.Path, err)
		}
	}

	if err := h.store.Save(session); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(sessionResponse{Session: session})
}

// StartSession spawns (or returns) the session's PTY
func (h *SessionsHandler) StartSession(c *fiber.Ctx) error {
	session, err := h.store.Load(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}

	var req startSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	if _, err := h.engine.Start(session, req.Prompt, req.Resume); err != nil {
		switch {
		case errors.Is(err, services.ErrWorkspaceMissing):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, services.ErrSpawnFailed):
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(sessionResponse{Session: session, Active: true})
}

// StopSession kills the session's PTY
func (h *SessionsHandler) StopSession(c *fiber.Ctx) error {
	if !h.engine.Stop(c.Params("id")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active PTY session"})
	}
	return c.JSON(fiber.Map{"message": "session stopped"})
}

// DeleteSession stops the session if active and removes its metadata
func (h *SessionsHandler) DeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	session, err := h.store.Load(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if session == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	if h.engine.IsActive(id) {
		h.engine.Stop(id)
	}
	if err := h.store.Delete(id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "session deleted"})
}
