package handlers

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/models"
	"github.com/agentdeck/agentdeck/internal/services"
)

// Frame limits enforced at the endpoint. Anything outside them is dropped
// without closing the socket.
const (
	maxFrameSize = 64 * 1024
	maxInputSize = 16 * 1024
	maxDims      = 500
	maxAckBytes  = 1_000_000
)

// TerminalEngine is the slice of the PTY engine the WebSocket endpoint needs
type TerminalEngine interface {
	IsActive(sessionID string) bool
	Attach(sessionID string, client services.TerminalClient) bool
	Detach(sessionID string, client services.TerminalClient)
	Input(sessionID string, data []byte) bool
	Resize(sessionID string, cols, rows uint16) bool
	Ack(sessionID string, client services.TerminalClient, bytes int)
}

// TerminalHandler serves /ws/terminal/{sessionId}
type TerminalHandler struct {
	engine TerminalEngine
}

// NewTerminalHandler creates the terminal WebSocket handler
func NewTerminalHandler(engine TerminalEngine) *TerminalHandler {
	return &TerminalHandler{engine: engine}
}

// wsClient adapts one WebSocket connection to the engine's TerminalClient.
// The write mutex serializes engine broadcasts with close frames.
type wsClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

func (c *wsClient) Send(msg models.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *wsClient) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *wsClient) closeWithCode(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// HandleWebSocket upgrades /ws/terminal/:sessionId
func (h *TerminalHandler) HandleWebSocket(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	sessionID := c.Params("sessionId")
	return websocket.New(func(conn *websocket.Conn) {
		h.handleConnection(conn, sessionID)
	}, websocket.Config{
		EnableCompression: true,
	})(c)
}

func (h *TerminalHandler) handleConnection(conn *websocket.Conn, sessionID string) {
	client := &wsClient{conn: conn}

	if !h.engine.IsActive(sessionID) {
		logger.Debugf("terminal connection refused: no active PTY for session %s", sessionID)
		client.closeWithCode(models.CloseNoActiveSession, "No active PTY session")
		return
	}
	if !h.engine.Attach(sessionID, client) {
		client.closeWithCode(models.CloseAttachFailed, "Failed to attach")
		return
	}
	logger.Infof("terminal client attached to session %s", sessionID)

	defer func() {
		client.markClosed()
		h.engine.Detach(sessionID, client)
		_ = conn.Close()
		logger.Infof("terminal client detached from session %s", sessionID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(sessionID, client, data)
	}
}

// dispatch validates one inbound frame and routes it to the engine. Anything
// malformed or out of bounds is dropped; the socket stays open.
func (h *TerminalHandler) dispatch(sessionID string, client services.TerminalClient, data []byte) {
	if len(data) > maxFrameSize {
		logger.Debugf("dropping oversize frame (%d bytes) for session %s", len(data), sessionID)
		return
	}

	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debugf("dropping malformed frame for session %s", sessionID)
		return
	}

	switch msg.Type {
	case models.MessageTypeInput:
		if len(msg.Data) > maxInputSize {
			return
		}
		h.engine.Input(sessionID, []byte(msg.Data))
	case models.MessageTypeResize:
		if msg.Cols < 1 || msg.Cols > maxDims || msg.Rows < 1 || msg.Rows > maxDims {
			return
		}
		h.engine.Resize(sessionID, uint16(msg.Cols), uint16(msg.Rows))
	case models.MessageTypeAck:
		if msg.Bytes <= 0 || msg.Bytes > maxAckBytes {
			return
		}
		h.engine.Ack(sessionID, client, msg.Bytes)
	default:
		logger.Debugf("dropping unknown frame type %q for session %s", msg.Type, sessionID)
	}
}
