// Package client is a programmatic WebSocket client for the agentdeck
// terminal protocol. Scripts and integration tests use it in place of the
// browser.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Bytes     int    `json:"bytes,omitempty"`
}

type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      string `json:"data,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ExitCode  *int   `json:"exitCode,omitempty"`
}

// TerminalClient drives one session's terminal over WebSocket
type TerminalClient struct {
	sessionID string

	mu   sync.Mutex
	conn *websocket.Conn

	onData        func(data []byte)
	onInteraction func(reason string)
	onExit        func(exitCode int)
	onError       func(err error)

	done chan struct{}
}

// NewTerminalClient creates a client for the given session id
func NewTerminalClient(sessionID string) *TerminalClient {
	return &TerminalClient{
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
}

// OnData sets the callback for pty-data frames
func (c *TerminalClient) OnData(handler func(data []byte)) {
	c.onData = handler
}

// OnInteraction sets the callback for interaction-needed frames
func (c *TerminalClient) OnInteraction(handler func(reason string)) {
	c.onInteraction = handler
}

// OnExit sets the callback for the pty-exit frame
func (c *TerminalClient) OnExit(handler func(exitCode int)) {
	c.onExit = handler
}

// OnError sets the callback for read-loop errors
func (c *TerminalClient) OnError(handler func(err error)) {
	c.onError = handler
}

// Connect dials ws(s)://host/ws/terminal/{sessionId} and starts the read loop
func (c *TerminalClient) Connect(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}

	//nolint:staticcheck // Simple if-else is clearer than switch for two cases
	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else if u.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/ws/terminal/%s", c.sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := *websocket.DefaultDialer
	dialer.EnableCompression = true
	c.conn, _, err = dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to terminal: %w", err)
	}

	go c.readLoop()

	return nil
}

func (c *TerminalClient) readLoop() {
	defer close(c.done)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.onError != nil {
				c.onError(err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "pty-data":
			if c.onData != nil {
				c.onData([]byte(msg.Data))
			}
		case "interaction-needed":
			if c.onInteraction != nil {
				c.onInteraction(msg.Reason)
			}
		case "pty-exit":
			if c.onExit != nil && msg.ExitCode != nil {
				c.onExit(*msg.ExitCode)
			}
		}
	}
}

func (c *TerminalClient) send(msg clientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendInput writes keystrokes to the session's PTY
func (c *TerminalClient) SendInput(data string) error {
	return c.send(clientMessage{Type: "pty-input", SessionID: c.sessionID, Data: data})
}

// Resize changes the terminal dimensions
func (c *TerminalClient) Resize(cols, rows int) error {
	return c.send(clientMessage{Type: "pty-resize", SessionID: c.sessionID, Cols: cols, Rows: rows})
}

// Ack reports bytes drained from the local render buffer; required for the
// server to keep streaming under backpressure
func (c *TerminalClient) Ack(bytes int) error {
	return c.send(clientMessage{Type: "pty-ack", SessionID: c.sessionID, Bytes: bytes})
}

// Done is closed when the read loop ends
func (c *TerminalClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection
func (c *TerminalClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
