package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/models"
)

// fakeProcess stands in for a PTY so engine tests can observe pause/resume
// and drive output deterministically
type fakeProcess struct {
	mu      sync.Mutex
	writes  []byte
	resizes [][2]uint16
	pauses  int
	resumes int
	kills   int
	exited  bool
	exit    func(exitCode int)
}

func (p *fakeProcess) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, data...)
	return nil
}

func (p *fakeProcess) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resizes = append(p.resizes, [2]uint16{cols, rows})
	return nil
}

func (p *fakeProcess) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
}

func (p *fakeProcess) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
}

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.kills++
	exit := p.exit
	p.mu.Unlock()
	if exit != nil {
		exit(-1)
	}
}

func (p *fakeProcess) pauseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses
}

func (p *fakeProcess) resumeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumes
}

type spawnRecord struct {
	opts ProcessOptions
	proc *fakeProcess
}

type fakeSpawner struct {
	mu      sync.Mutex
	records []*spawnRecord
	fail    bool
}

func (f *fakeSpawner) spawn(opts ProcessOptions) (processHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("spawn refused")
	}
	proc := &fakeProcess{exit: opts.OnExit}
	f.records = append(f.records, &spawnRecord{opts: opts, proc: proc})
	return proc, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeSpawner) record(i int) *spawnRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[i]
}

// recorderClient captures everything the engine sends to one attached client
type recorderClient struct {
	mu     sync.Mutex
	msgs   []models.ServerMessage
	closed bool
}

func (c *recorderClient) Send(msg models.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("client closed")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recorderClient) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *recorderClient) data() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sb strings.Builder
	for _, msg := range c.msgs {
		if msg.Type == models.MessageTypeData {
			sb.WriteString(msg.Data)
		}
	}
	return sb.String()
}

func (c *recorderClient) countType(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, msg := range c.msgs {
		if msg.Type == msgType {
			n++
		}
	}
	return n
}

func (c *recorderClient) maxDataLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	max := 0
	for _, msg := range c.msgs {
		if msg.Type == models.MessageTypeData && len(msg.Data) > max {
			max = len(msg.Data)
		}
	}
	return max
}

func (c *recorderClient) lastType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return ""
	}
	return c.msgs[len(c.msgs)-1].Type
}

type recorderPersister struct {
	mu    sync.Mutex
	calls [][2]string
}

func (p *recorderPersister) PersistConversationID(sessionID, conversationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]string{sessionID, conversationID})
	return nil
}

func (p *recorderPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recorderPersister) last() [2]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type recorderNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (n *recorderNotifier) SendPushNotification(title, body string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, body)
}

func (n *recorderNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

func testConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.BatchInterval = 2 * time.Millisecond
	cfg.Throttle = time.Millisecond
	cfg.PauseTimeout = 250 * time.Millisecond
	cfg.IdleThreshold = 60 * time.Millisecond
	cfg.DiscoverInterval = 20 * time.Millisecond
	cfg.RestartAttachDelay = 10 * time.Millisecond
	return cfg
}

func testSession(t *testing.T, agent models.AgentType) *models.Session {
	t.Helper()
	now := time.Now()
	return &models.Session{
		ID:            fmt.Sprintf("sess-%s-%d", agent, now.UnixNano()),
		Agent:         agent,
		WorkspaceID:   "ws-1",
		WorkspacePath: t.TempDir(),
		Interactive:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newTestManager(cfg ManagerConfig) (*TerminalManager, *fakeSpawner, *recorderPersister, *recorderNotifier) {
	spawner := &fakeSpawner{}
	persister := &recorderPersister{}
	notifier := &recorderNotifier{}
	m := NewTerminalManagerWithConfig(cfg, persister, notifier, spawner.spawn)
	return m, spawner, persister, notifier
}

func TestTerminalManagerRegistry(t *testing.T) {
	t.Run("start is idempotent per session id", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)

		first, err := m.Start(session, "", false)
		require.NoError(t, err)
		second, err := m.Start(session, "", false)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, 1, spawner.count())
		assert.True(t, m.IsActive(session.ID))
		assert.Equal(t, []string{session.ID}, m.ListActive())
	})

	t.Run("missing workspace fails without a registry entry", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		session.WorkspacePath = filepath.Join(session.WorkspacePath, "does-not-exist")

		_, err := m.Start(session, "", false)
		require.ErrorIs(t, err, ErrWorkspaceMissing)
		assert.False(t, m.IsActive(session.ID))
		assert.Equal(t, 0, spawner.count())
	})

	t.Run("spawn failure fails without a registry entry", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(testConfig())
		spawner.fail = true
		session := testSession(t, models.AgentClaude)

		_, err := m.Start(session, "", false)
		require.ErrorIs(t, err, ErrSpawnFailed)
		assert.False(t, m.IsActive(session.ID))
	})

	t.Run("stop kills the PTY and clears the registry", func(t *testing.T) {
		m, _, _, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		require.True(t, m.Stop(session.ID))
		require.Eventually(t, func() bool {
			return !m.IsActive(session.ID)
		}, time.Second, 5*time.Millisecond)
		assert.Empty(t, m.ListActive())
		assert.False(t, m.Stop(session.ID))
	})

	t.Run("operations on unknown sessions are refused", func(t *testing.T) {
		m, _, _, _ := newTestManager(testConfig())
		client := &recorderClient{}
		assert.False(t, m.Attach("nope", client))
		assert.False(t, m.Input("nope", []byte("x")))
		assert.False(t, m.Resize("nope", 80, 24))
		assert.False(t, m.Stop("nope"))
	})

	t.Run("stop all kills every live session", func(t *testing.T) {
		m, _, _, _ := newTestManager(testConfig())
		s1 := testSession(t, models.AgentClaude)
		s2 := testSession(t, models.AgentCopilot)
		_, err := m.Start(s1, "", false)
		require.NoError(t, err)
		_, err = m.Start(s2, "", false)
		require.NoError(t, err)

		m.StopAll()
		require.Eventually(t, func() bool {
			return len(m.ListActive()) == 0
		}, time.Second, 5*time.Millisecond)
	})
}

func TestOutputPipeline(t *testing.T) {
	t.Run("client receives output in order", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		stream := ""
		for i := 0; i < 20; i++ {
			chunk := fmt.Sprintf("chunk-%02d;", i)
			stream += chunk
			rec.opts.OnData([]byte(chunk))
		}

		require.Eventually(t, func() bool {
			return client.data() == stream
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("flushes never exceed the chunk cap", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxChunkSize = 100
		m, spawner, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		stream := strings.Repeat("abcdefghij", 100) // 1000 bytes
		for i := 0; i < len(stream); i += 40 {
			rec.opts.OnData([]byte(stream[i : i+40]))
		}

		require.Eventually(t, func() bool {
			return len(client.data()) == len(stream)
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, stream, client.data())
		assert.LessOrEqual(t, client.maxDataLen(), 100)
	})

	t.Run("overflow drops oldest data but keeps streaming", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxBufferSize = 500
		// Freeze flushing so the buffer genuinely overflows
		cfg.BatchInterval = time.Hour
		m, spawner, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		s, err := m.Start(session, "", false)
		require.NoError(t, err)

		rec := spawner.record(0)
		for i := 0; i < 10; i++ {
			rec.opts.OnData([]byte(strings.Repeat("x", 100)))
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		assert.LessOrEqual(t, s.bufferSize, 500)
		total := 0
		for _, chunk := range s.outputChunks {
			total += len(chunk)
		}
		assert.Equal(t, total, s.bufferSize)
	})

	t.Run("exit delivers residual output before pty-exit", func(t *testing.T) {
		cfg := testConfig()
		cfg.BatchInterval = time.Hour // keep data buffered until exit
		m, spawner, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		rec.opts.OnData([]byte("last words"))
		rec.opts.OnExit(3)

		assert.Equal(t, "last words", client.data())
		assert.Equal(t, 1, client.countType(models.MessageTypeExit))
		assert.Equal(t, models.MessageTypeExit, client.lastType())
		assert.False(t, m.IsActive(session.ID))

		// The registry entry is gone; new attaches are refused
		assert.False(t, m.Attach(session.ID, &recorderClient{}))
	})
}

func TestBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.AckPauseThreshold = 1000
	cfg.AckResumeThreshold = 500

	t.Run("pauses at the threshold and resumes on ack", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		rec.opts.OnData([]byte(strings.Repeat("x", 2000)))

		require.Eventually(t, func() bool {
			return rec.proc.pauseCount() == 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, rec.proc.resumeCount())

		// Partial ack leaves it over the resume threshold
		m.Ack(session.ID, client, 1000)
		assert.Equal(t, 0, rec.proc.resumeCount())

		// Draining under the threshold resumes
		m.Ack(session.ID, client, 600)
		assert.Equal(t, 1, rec.proc.resumeCount())
	})

	t.Run("detach of a stuck client resumes the PTY", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		stuck := &recorderClient{}
		require.True(t, m.Attach(session.ID, stuck))

		rec := spawner.record(0)
		rec.opts.OnData([]byte(strings.Repeat("x", 2000)))
		require.Eventually(t, func() bool {
			return rec.proc.pauseCount() == 1
		}, time.Second, 5*time.Millisecond)

		m.Detach(session.ID, stuck)
		assert.Equal(t, 1, rec.proc.resumeCount())
	})

	t.Run("force resume after the pause timeout", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		rec.opts.OnData([]byte(strings.Repeat("x", 2000)))
		require.Eventually(t, func() bool {
			return rec.proc.pauseCount() == 1
		}, time.Second, 5*time.Millisecond)

		// No ack ever arrives; the timeout unblocks the PTY
		require.Eventually(t, func() bool {
			return rec.proc.resumeCount() == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("attach then detach restores pre-attach state", func(t *testing.T) {
		m, _, _, _ := newTestManager(cfg)
		session := testSession(t, models.AgentClaude)
		s, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))
		m.Detach(session.ID, client)

		s.mu.Lock()
		defer s.mu.Unlock()
		assert.Empty(t, s.clients)
		assert.Empty(t, s.pendingBytes)
		assert.False(t, s.isPaused)
	})
}

func TestInteractionDetection(t *testing.T) {
	t.Run("prompt output notifies once per quiet period", func(t *testing.T) {
		m, spawner, _, notifier := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		rec.opts.OnData([]byte("Proceed? [y/n] "))
		assert.Equal(t, 1, client.countType(models.MessageTypeInteractionNeeded))

		// An immediately repeated prompt is the same quiet period
		rec.opts.OnData([]byte("Proceed? [y/n] "))
		assert.Equal(t, 1, client.countType(models.MessageTypeInteractionNeeded))

		// Any other output re-arms the detector
		rec.opts.OnData([]byte("tool output\n"))
		rec.opts.OnData([]byte("Proceed? [y/n] "))
		assert.Equal(t, 2, client.countType(models.MessageTypeInteractionNeeded))

		require.Eventually(t, func() bool {
			return notifier.count() >= 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("idle output triggers a single notification", func(t *testing.T) {
		m, spawner, _, notifier := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		rec := spawner.record(0)
		rec.opts.OnData([]byte("thinking...\n"))

		require.Eventually(t, func() bool {
			return client.countType(models.MessageTypeInteractionNeeded) == 1
		}, time.Second, 5*time.Millisecond)

		// The timer doesn't re-arm without fresh output
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, 1, client.countType(models.MessageTypeInteractionNeeded))
		assert.Equal(t, 1, notifier.count())
	})
}

func TestResumeFailureRestart(t *testing.T) {
	t.Run("stale conversation restarts silently with a fresh id", func(t *testing.T) {
		m, spawner, persister, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		session.ConversationID = "abc"

		_, err := m.Start(session, "", true)
		require.NoError(t, err)
		first := spawner.record(0)
		assert.Contains(t, strings.Join(first.opts.Argv, " "), "--resume abc")

		client := &recorderClient{}
		require.True(t, m.Attach(session.ID, client))

		first.opts.OnData([]byte("No conversation found with session ID abc\n"))

		require.Eventually(t, func() bool {
			return spawner.count() == 2
		}, time.Second, 5*time.Millisecond)

		second := spawner.record(1)
		assert.Contains(t, strings.Join(second.opts.Argv, " "), "--session-id "+session.ID)

		// The session never looked inactive and the client saw no exit
		assert.True(t, m.IsActive(session.ID))
		assert.Equal(t, 0, client.countType(models.MessageTypeExit))

		// The preserved client is re-attached to the new PTY
		require.Eventually(t, func() bool {
			second.opts.OnData([]byte("fresh output"))
			return strings.Contains(client.data(), "fresh output")
		}, time.Second, 20*time.Millisecond)

		// The fresh conversation id is persisted for the next resume
		require.Eventually(t, func() bool {
			return persister.count() >= 1
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, [2]string{session.ID, session.ID}, persister.last())
	})

	t.Run("detection stops at the probe cap", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		session.ConversationID = "abc"

		s, err := m.Start(session, "", true)
		require.NoError(t, err)

		rec := spawner.record(0)
		rec.opts.OnData([]byte(strings.Repeat("banner ", 200))) // > 1 KiB, no marker

		s.mu.Lock()
		complete := s.retryDetectionComplete
		bufLen := len(s.retryDetectionBuffer)
		s.mu.Unlock()
		assert.True(t, complete)
		assert.Zero(t, bufLen)

		// A late marker is ignored once detection completed
		rec.opts.OnData([]byte("No conversation found with session ID abc\n"))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, spawner.count())
	})

	t.Run("fresh starts never arm the probe", func(t *testing.T) {
		m, spawner, _, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)

		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		rec := spawner.record(0)
		rec.opts.OnData([]byte("No conversation found with session ID whatever\n"))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, spawner.count())
	})
}

func TestConversationDiscovery(t *testing.T) {
	t.Run("copilot conversation id is discovered by polling", func(t *testing.T) {
		origHome := config.Runtime.HomeDir
		config.Runtime.HomeDir = t.TempDir()
		defer func() { config.Runtime.HomeDir = origHome }()

		stateDir := CopilotStateDir()
		require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "x"), 0755))
		require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "y"), 0755))

		m, _, persister, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentCopilot)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		// The CLI invents its conversation shortly after spawn
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = os.MkdirAll(filepath.Join(stateDir, "z"), 0755)
		}()

		require.Eventually(t, func() bool {
			return persister.count() == 1
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, [2]string{session.ID, "z"}, persister.last())

		// No duplicate persists on later polls
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, persister.count())
	})

	t.Run("claude sessions persist our id as the conversation id", func(t *testing.T) {
		m, _, persister, _ := newTestManager(testConfig())
		session := testSession(t, models.AgentClaude)
		_, err := m.Start(session, "", false)
		require.NoError(t, err)

		require.Equal(t, 1, persister.count())
		assert.Equal(t, [2]string{session.ID, session.ID}, persister.last())
	})
}
