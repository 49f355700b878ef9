package handlers

import (
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/services"
)

// stubTerminalEngine records endpoint → engine calls
type stubTerminalEngine struct {
	mu      sync.Mutex
	active  map[string]bool
	inputs  []string
	resizes [][2]uint16
	acks    []int
}

func newStubTerminalEngine() *stubTerminalEngine {
	return &stubTerminalEngine{active: make(map[string]bool)}
}

func (e *stubTerminalEngine) IsActive(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[sessionID]
}

func (e *stubTerminalEngine) Attach(sessionID string, client services.TerminalClient) bool {
	return e.IsActive(sessionID)
}

func (e *stubTerminalEngine) Detach(sessionID string, client services.TerminalClient) {}

func (e *stubTerminalEngine) Input(sessionID string, data []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, string(data))
	return true
}

func (e *stubTerminalEngine) Resize(sessionID string, cols, rows uint16) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resizes = append(e.resizes, [2]uint16{cols, rows})
	return true
}

func (e *stubTerminalEngine) Ack(sessionID string, client services.TerminalClient, bytes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acks = append(e.acks, bytes)
}

func TestTerminalEndpointRequiresUpgrade(t *testing.T) {
	engine := newStubTerminalEngine()
	handler := NewTerminalHandler(engine)

	app := fiber.New()
	app.Get("/ws/terminal/:sessionId", handler.HandleWebSocket)

	// A plain GET without the upgrade handshake is refused
	req := httptest.NewRequest("GET", "/ws/terminal/s-1", nil)
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestTerminalDispatch(t *testing.T) {
	engine := newStubTerminalEngine()
	handler := NewTerminalHandler(engine)
	client := &wsClient{}

	t.Run("valid input reaches the PTY", func(t *testing.T) {
		handler.dispatch("s-1", client, []byte(`{"type":"pty-input","sessionId":"s-1","data":"ls\r"}`))
		require.Equal(t, []string{"ls\r"}, engine.inputs)
	})

	t.Run("oversize input is dropped", func(t *testing.T) {
		big := make([]byte, maxInputSize+1)
		for i := range big {
			big[i] = 'a'
		}
		frame := []byte(`{"type":"pty-input","data":"` + string(big) + `"}`)
		handler.dispatch("s-1", client, frame)
		assert.Len(t, engine.inputs, 1)
	})

	t.Run("resize bounds are enforced", func(t *testing.T) {
		handler.dispatch("s-1", client, []byte(`{"type":"pty-resize","cols":120,"rows":40}`))
		require.Equal(t, [][2]uint16{{120, 40}}, engine.resizes)

		handler.dispatch("s-1", client, []byte(`{"type":"pty-resize","cols":0,"rows":40}`))
		handler.dispatch("s-1", client, []byte(`{"type":"pty-resize","cols":600,"rows":40}`))
		handler.dispatch("s-1", client, []byte(`{"type":"pty-resize","cols":120,"rows":-1}`))
		assert.Len(t, engine.resizes, 1)
	})

	t.Run("ack bounds are enforced", func(t *testing.T) {
		handler.dispatch("s-1", client, []byte(`{"type":"pty-ack","bytes":32768}`))
		require.Equal(t, []int{32768}, engine.acks)

		handler.dispatch("s-1", client, []byte(`{"type":"pty-ack","bytes":0}`))
		handler.dispatch("s-1", client, []byte(`{"type":"pty-ack","bytes":2000000}`))
		assert.Len(t, engine.acks, 1)
	})

	t.Run("garbage and unknown types are dropped", func(t *testing.T) {
		handler.dispatch("s-1", client, []byte(`not json`))
		handler.dispatch("s-1", client, []byte(`{"type":"launch-missiles"}`))
		assert.Len(t, engine.inputs, 1)
		assert.Len(t, engine.resizes, 1)
		assert.Len(t, engine.acks, 1)
	})
}

func TestWsClientOpenState(t *testing.T) {
	client := &wsClient{}
	assert.True(t, client.Open())
	client.markClosed()
	assert.False(t, client.Open())
}
