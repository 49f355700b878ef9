package services

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/logger"
	"github.com/agentdeck/agentdeck/internal/models"
)

// Flow-control constants. These are tuned together: after Pause is requested
// the PTY can deliver at most one more read, so the worst case in flight is
// ackPauseThreshold + one outbound message. A browser-side write buffer of
// 128 KiB covers that; maxBufferSize is 2x as a final safety net and only
// trips when flow control is broken.
const (
	outputBatchInterval = 16 * time.Millisecond
	outputThrottle      = 8 * time.Millisecond
	outputMaxChunkSize  = 64 * 1024
	outputMaxBufferSize = 256 * 1024

	ackPauseThreshold  = 64 * 1024
	ackResumeThreshold = 32 * 1024

	retryDetectionLimit = 1024
)

// resumeFailureMarker is what claude prints when asked to resume a
// conversation it no longer has. Fragile across CLI releases; revisit if the
// CLI grows a structured way to report this.
var resumeFailureMarker = []byte("No conversation found with session ID")

// interactionPromptRegexp matches the canonical confirmation prompts the
// agent CLIs print when they need a human decision
var interactionPromptRegexp = regexp.MustCompile(`(?i)\[y/n\]|\(y/n\)|\[yes/no\]|press enter to continue|press any key|enter your choice|do you want to proceed\?|type 'yes' to confirm|permission required:|approve\?|allow this action\?|continue\?|confirm\?`)

// TerminalClient is one attached browser connection. The WebSocket layer owns
// the connection; the engine only sends frames and checks liveness.
type TerminalClient interface {
	Send(msg models.ServerMessage) error
	Open() bool
}

// ConversationPersister records a discovered CLI conversation id so the
// session can be resumed later
type ConversationPersister interface {
	PersistConversationID(sessionID, conversationID string) error
}

// PushNotifier delivers a push notification to the user's subscribed browsers
type PushNotifier interface {
	SendPushNotification(title, body string, data map[string]string)
}

// processHandle abstracts the PTY process so tests can substitute a fake
type processHandle interface {
	Write(data []byte) error
	Resize(cols, rows uint16) error
	Pause()
	Resume()
	Kill()
}

type spawnFunc func(opts ProcessOptions) (processHandle, error)

// ManagerConfig carries the engine timings. Production uses
// DefaultManagerConfig; tests shorten the slow ones.
type ManagerConfig struct {
	BatchInterval      time.Duration
	Throttle           time.Duration
	MaxChunkSize       int
	MaxBufferSize      int
	AckPauseThreshold  int
	AckResumeThreshold int
	PauseTimeout       time.Duration
	IdleThreshold      time.Duration
	DiscoverInterval   time.Duration
	DiscoverAttempts   int
	RestartAttachDelay time.Duration
}

// DefaultManagerConfig returns the production engine timings
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BatchInterval:      outputBatchInterval,
		Throttle:           outputThrottle,
		MaxChunkSize:       outputMaxChunkSize,
		MaxBufferSize:      outputMaxBufferSize,
		AckPauseThreshold:  ackPauseThreshold,
		AckResumeThreshold: ackResumeThreshold,
		PauseTimeout:       30 * time.Second,
		IdleThreshold:      8 * time.Second,
		DiscoverInterval:   3 * time.Second,
		DiscoverAttempts:   5,
		RestartAttachDelay: 100 * time.Millisecond,
	}
}

// PtySession is the live state of one PTY and its attached clients. All
// fields behind mu; every event handler (output, client message, ack, timer,
// exit) runs under it, so each session is a single-writer domain.
type PtySession struct {
	sessionID string
	session   *models.Session
	prompt    string

	mu      sync.Mutex
	process processHandle

	clients      map[TerminalClient]struct{}
	pendingBytes map[TerminalClient]int

	// Output pipeline. outputChunks holds raw PTY reads; chunksSentIndex
	// marks how many from the head are already transmitted. The
	// list-plus-index shape avoids re-slicing one big buffer on every
	// flush, which matters during 100+ KiB resume replays.
	outputChunks    [][]byte
	bufferSize      int
	chunksSentIndex int
	flushTimer      *time.Timer
	lastFlushTime   time.Time

	// Interaction detection
	lastOutputTime        time.Time
	idleTimer             *time.Timer
	isInteractionNotified bool

	// Resume-failure detection
	retryDetectionArmed    bool
	retryDetectionComplete bool
	retryDetectionBuffer   []byte

	// Backpressure
	isPaused   bool
	pauseTimer *time.Timer

	isRestarting bool
	gone         bool
}

// TerminalManager owns every live PtySession. It is the registry (start,
// stop, lookup) and hosts the per-session output pipeline, backpressure,
// interaction detection and silent-restart logic.
type TerminalManager struct {
	cfg       ManagerConfig
	persister ConversationPersister
	notifier  PushNotifier
	spawn     spawnFunc

	mu       sync.RWMutex
	sessions map[string]*PtySession
}

// NewTerminalManager creates the engine with production timings
func NewTerminalManager(persister ConversationPersister, notifier PushNotifier) *TerminalManager {
	return NewTerminalManagerWithConfig(DefaultManagerConfig(), persister, notifier, nil)
}

// NewTerminalManagerWithConfig creates the engine with explicit timings and
// an optional spawn override for tests
func NewTerminalManagerWithConfig(cfg ManagerConfig, persister ConversationPersister, notifier PushNotifier, spawn spawnFunc) *TerminalManager {
	if spawn == nil {
		spawn = func(opts ProcessOptions) (processHandle, error) {
			return StartProcess(opts)
		}
	}
	return &TerminalManager{
		cfg:       cfg,
		persister: persister,
		notifier:  notifier,
		spawn:     spawn,
		sessions:  make(map[string]*PtySession),
	}
}

// Start spawns the agent CLI for a session under a fresh PTY. Idempotent on
// session id: a second Start returns the live PtySession without spawning.
func (m *TerminalManager) Start(session *models.Session, prompt string, resume bool) (*PtySession, error) {
	m.mu.RLock()
	if existing, ok := m.sessions[session.ID]; ok {
		m.mu.RUnlock()
		return existing, nil
	}
	m.mu.RUnlock()

	if info, err := os.Stat(session.WorkspacePath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceMissing, session.WorkspacePath)
	}

	cmd, err := BuildAgentCommand(session, prompt, resume)
	if err != nil {
		return nil, err
	}

	s := &PtySession{
		sessionID:           session.ID,
		session:             session,
		prompt:              prompt,
		clients:             make(map[TerminalClient]struct{}),
		pendingBytes:        make(map[TerminalClient]int),
		retryDetectionArmed: cmd.ResumeProbe,
	}

	proc, err := m.spawn(ProcessOptions{
		Argv: cmd.Argv,
		Dir:  session.WorkspacePath,
		Env:  cmd.Env,
		Cols: 120,
		Rows: 40,
		OnData: func(data []byte) {
			m.handleOutput(s, data)
		},
		OnExit: func(exitCode int) {
			m.handleExit(s, exitCode)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s.mu.Lock()
	s.process = proc
	s.mu.Unlock()

	m.mu.Lock()
	if existing, ok := m.sessions[session.ID]; ok {
		// Lost a start race; keep the first spawn
		m.mu.Unlock()
		proc.Kill()
		return existing, nil
	}
	s.mu.Lock()
	if !s.gone {
		// A very short-lived process may already have exited; its exit
		// handler saw no registry entry, so don't create a dead one
		m.sessions[session.ID] = s
	}
	s.mu.Unlock()
	m.mu.Unlock()

	logger.Infof("started %s session %s in %s (resume=%v)", session.Agent, session.ID, session.WorkspacePath, resume)

	if session.Agent == models.AgentClaude && !cmd.ResumeProbe {
		m.persistConversationID(s, session.ID)
	}
	if cmd.DiscoverConversation {
		go m.discoverConversationID(s, cmd.BeforeIDs)
	}

	return s, nil
}

// Attach adds a client to a session's fan-out set. Returns false when the
// session has no live PTY.
func (m *TerminalManager) Attach(sessionID string, client TerminalClient) bool {
	s := m.get(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return false
	}
	s.clients[client] = struct{}{}
	s.pendingBytes[client] = 0
	return true
}

// Detach removes a client. A stuck client going away can unblock the PTY, so
// the resume check runs afterwards.
func (m *TerminalManager) Detach(sessionID string, client TerminalClient) {
	s := m.get(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, client)
	delete(s.pendingBytes, client)
	m.maybeResumeLocked(s)
}

// Input writes raw bytes to the session's PTY
func (m *TerminalManager) Input(sessionID string, data []byte) bool {
	s := m.get(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()
	if proc == nil {
		return false
	}
	// Written outside the session lock: a paused PTY can block this write,
	// and the ack that unblocks it needs the lock.
	if err := proc.Write(data); err != nil {
		logger.Warnf("pty write failed for session %s: %v", sessionID, err)
		return false
	}
	return true
}

// Resize forwards a window size change to the PTY
func (m *TerminalManager) Resize(sessionID string, cols, rows uint16) bool {
	s := m.get(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	proc := s.process
	s.mu.Unlock()
	if proc == nil {
		return false
	}
	if err := proc.Resize(cols, rows); err != nil {
		logger.Warnf("pty resize failed for session %s: %v", sessionID, err)
		return false
	}
	return true
}

// Ack credits bytes the client has drained from its render buffer and
// resumes the PTY when everyone is back under the resume threshold
func (m *TerminalManager) Ack(sessionID string, client TerminalClient, ackedBytes int) {
	s := m.get(sessionID)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingBytes[client]; !ok {
		return
	}
	pending := s.pendingBytes[client] - ackedBytes
	if pending < 0 {
		pending = 0
	}
	s.pendingBytes[client] = pending
	m.maybeResumeLocked(s)
}

// Stop kills the session's PTY. Cleanup happens in the exit handler.
func (m *TerminalManager) Stop(sessionID string) bool {
	s := m.get(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.isRestarting = false
	proc := s.process
	s.mu.Unlock()
	if proc != nil {
		proc.Kill()
	}
	return true
}

// StopAll kills every live PTY. Best-effort: each exit handler does its own
// cleanup.
func (m *TerminalManager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// IsActive reports whether a session has a live PTY
func (m *TerminalManager) IsActive(sessionID string) bool {
	return m.get(sessionID) != nil
}

// ListActive returns the ids of all sessions with a live PTY
func (m *TerminalManager) ListActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (m *TerminalManager) get(sessionID string) *PtySession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// handleOutput is the entry point for every raw PTY chunk
func (m *TerminalManager) handleOutput(s *PtySession, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return
	}

	if s.retryDetectionArmed && !s.retryDetectionComplete && !s.isRestarting {
		if remaining := retryDetectionLimit - len(s.retryDetectionBuffer); remaining > 0 {
			take := remaining
			if take > len(data) {
				take = len(data)
			}
			s.retryDetectionBuffer = append(s.retryDetectionBuffer, data[:take]...)
		}
		if bytes.Contains(s.retryDetectionBuffer, resumeFailureMarker) {
			logger.Warnf("stale conversation for session %s, restarting with a fresh one", s.sessionID)
			s.retryDetectionBuffer = nil
			s.retryDetectionComplete = true
			s.isRestarting = true
			if proc := s.process; proc != nil {
				go proc.Kill()
			}
			return
		}
		if len(s.retryDetectionBuffer) >= retryDetectionLimit {
			s.retryDetectionBuffer = nil
			s.retryDetectionComplete = true
		}
	}

	s.lastOutputTime = time.Now()
	// A prompt re-printed back to back is one quiet period, not two: the
	// notified flag only clears on output that is not itself a prompt.
	promptChunk := interactionPromptRegexp.Match(data)
	if !promptChunk {
		s.isInteractionNotified = false
	}

	s.outputChunks = append(s.outputChunks, data)
	s.bufferSize += len(data)
	if s.bufferSize > m.cfg.MaxBufferSize {
		dropped := 0
		for s.bufferSize > m.cfg.MaxBufferSize && len(s.outputChunks) > 0 {
			s.bufferSize -= len(s.outputChunks[0])
			s.outputChunks = s.outputChunks[1:]
			if s.chunksSentIndex > 0 {
				s.chunksSentIndex--
			}
			dropped++
		}
		logger.Errorf("output buffer overflow for session %s: dropped %d chunks; flow control is misconfigured", s.sessionID, dropped)
	}

	if s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(m.cfg.BatchInterval, func() { m.flushTimerFired(s) })
	}

	if promptChunk {
		m.notifyInteractionLocked(s, "Input prompt detected")
	}

	if s.idleTimer == nil {
		s.idleTimer = time.AfterFunc(m.cfg.IdleThreshold, func() { m.idleTimerFired(s) })
	}
}

func (m *TerminalManager) flushTimerFired(s *PtySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushTimer = nil
	if s.gone {
		return
	}
	m.flushLocked(s)
}

// flushLocked sends one size-capped pty-data message to every client and
// reschedules itself while unsent chunks remain
func (m *TerminalManager) flushLocked(s *PtySession) {
	unsentSize := 0
	for _, chunk := range s.outputChunks[s.chunksSentIndex:] {
		unsentSize += len(chunk)
	}
	if unsentSize == 0 {
		return
	}

	if elapsed := time.Since(s.lastFlushTime); elapsed < m.cfg.Throttle && unsentSize < m.cfg.MaxChunkSize {
		if s.flushTimer == nil {
			s.flushTimer = time.AfterFunc(m.cfg.Throttle-elapsed, func() { m.flushTimerFired(s) })
		}
		return
	}

	end := s.chunksSentIndex
	total := 0
	for end < len(s.outputChunks) {
		l := len(s.outputChunks[end])
		if total > 0 && total+l > m.cfg.MaxChunkSize {
			break
		}
		total += l
		end++
		if total >= m.cfg.MaxChunkSize {
			break
		}
	}

	payload := make([]byte, 0, total)
	for _, chunk := range s.outputChunks[s.chunksSentIndex:end] {
		payload = append(payload, chunk...)
	}
	s.chunksSentIndex = end
	if s.chunksSentIndex >= len(s.outputChunks) {
		// Fully drained; release the backing arrays
		s.outputChunks = nil
		s.chunksSentIndex = 0
		s.bufferSize = 0
	}

	m.broadcastDataLocked(s, payload)
	s.lastFlushTime = time.Now()

	if s.chunksSentIndex < len(s.outputChunks) && s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(m.cfg.Throttle, func() { m.flushTimerFired(s) })
	}
}

// broadcastDataLocked delivers one pty-data frame to all open clients and
// runs the pause check
func (m *TerminalManager) broadcastDataLocked(s *PtySession, payload []byte) {
	msg := models.ServerMessage{
		Type:      models.MessageTypeData,
		SessionID: s.sessionID,
		Data:      string(payload),
	}
	for client := range s.clients {
		if !client.Open() {
			continue
		}
		s.pendingBytes[client] += len(payload)
		if err := client.Send(msg); err != nil {
			// The ws layer fires close for this client soon; skip it here
			continue
		}
	}

	if !s.isPaused && s.process != nil && m.maxPendingLocked(s) >= m.cfg.AckPauseThreshold {
		s.isPaused = true
		s.process.Pause()
		s.pauseTimer = time.AfterFunc(m.cfg.PauseTimeout, func() { m.pauseTimeoutFired(s) })
	}
}

func (m *TerminalManager) maxPendingLocked(s *PtySession) int {
	max := 0
	for _, pending := range s.pendingBytes {
		if pending > max {
			max = pending
		}
	}
	return max
}

func (m *TerminalManager) maybeResumeLocked(s *PtySession) {
	if !s.isPaused {
		return
	}
	if m.maxPendingLocked(s) >= m.cfg.AckResumeThreshold {
		return
	}
	s.isPaused = false
	if s.pauseTimer != nil {
		s.pauseTimer.Stop()
		s.pauseTimer = nil
	}
	if s.process != nil {
		s.process.Resume()
	}
}

func (m *TerminalManager) pauseTimeoutFired(s *PtySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseTimer = nil
	if s.gone || !s.isPaused {
		return
	}
	logger.Warnf("backpressure timeout for session %s: client never acked, force-resuming PTY", s.sessionID)
	s.isPaused = false
	if s.process != nil {
		s.process.Resume()
	}
}

func (m *TerminalManager) idleTimerFired(s *PtySession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleTimer = nil
	if s.gone || s.lastOutputTime.IsZero() {
		return
	}
	if time.Since(s.lastOutputTime) >= m.cfg.IdleThreshold && !s.isInteractionNotified {
		m.notifyInteractionLocked(s, "Waiting for input (idle)")
	}
}

// notifyInteractionLocked broadcasts interaction-needed at most once per
// quiet period and fires a push notification
func (m *TerminalManager) notifyInteractionLocked(s *PtySession, reason string) {
	if s.isInteractionNotified {
		return
	}
	s.isInteractionNotified = true

	msg := models.ServerMessage{
		Type:      models.MessageTypeInteractionNeeded,
		SessionID: s.sessionID,
		Reason:    reason,
	}
	for client := range s.clients {
		if !client.Open() {
			continue
		}
		_ = client.Send(msg)
	}

	if m.notifier != nil {
		name := s.session.FriendlyName
		if name == "" {
			name = s.sessionID
		}
		title := fmt.Sprintf("%s is waiting for you", name)
		go m.notifier.SendPushNotification(title, reason, map[string]string{
			"sessionId": s.sessionID,
		})
	}
}

// handleExit runs when the PTY's read loop drains after process death
func (m *TerminalManager) handleExit(s *PtySession, exitCode int) {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	m.stopTimersLocked(s)

	if s.isRestarting {
		s.isRestarting = false
		preserved := make([]TerminalClient, 0, len(s.clients))
		for client := range s.clients {
			preserved = append(preserved, client)
		}
		s.clients = make(map[TerminalClient]struct{})
		s.pendingBytes = make(map[TerminalClient]int)
		s.outputChunks = nil
		s.bufferSize = 0
		s.chunksSentIndex = 0
		s.isPaused = false
		s.lastFlushTime = time.Time{}
		s.lastOutputTime = time.Time{}
		s.isInteractionNotified = false
		s.mu.Unlock()
		m.restartSession(s, preserved)
		return
	}

	// Deliver whatever is still buffered, then the exit event
	for s.chunksSentIndex < len(s.outputChunks) {
		end := s.chunksSentIndex
		total := 0
		for end < len(s.outputChunks) {
			l := len(s.outputChunks[end])
			if total > 0 && total+l > m.cfg.MaxChunkSize {
				break
			}
			total += l
			end++
			if total >= m.cfg.MaxChunkSize {
				break
			}
		}
		payload := make([]byte, 0, total)
		for _, chunk := range s.outputChunks[s.chunksSentIndex:end] {
			payload = append(payload, chunk...)
		}
		s.chunksSentIndex = end
		msg := models.ServerMessage{
			Type:      models.MessageTypeData,
			SessionID: s.sessionID,
			Data:      string(payload),
		}
		for client := range s.clients {
			if client.Open() {
				_ = client.Send(msg)
			}
		}
	}

	code := exitCode
	exitMsg := models.ServerMessage{
		Type:      models.MessageTypeExit,
		SessionID: s.sessionID,
		ExitCode:  &code,
	}
	for client := range s.clients {
		if client.Open() {
			_ = client.Send(exitMsg)
		}
	}

	s.gone = true
	s.clients = make(map[TerminalClient]struct{})
	s.pendingBytes = make(map[TerminalClient]int)
	s.outputChunks = nil
	s.bufferSize = 0
	s.chunksSentIndex = 0
	s.mu.Unlock()

	m.mu.Lock()
	if m.sessions[s.sessionID] == s {
		delete(m.sessions, s.sessionID)
	}
	m.mu.Unlock()

	logger.Infof("session %s exited with code %d", s.sessionID, exitCode)
}

// restartSession replaces the PTY underneath the session after a failed
// resume. The registry entry stays in place the whole time, so IsActive
// never flickers and reconnecting browsers are not bounced with 4000.
func (m *TerminalManager) restartSession(s *PtySession, preserved []TerminalClient) {
	s.session.ConversationID = ""

	cmd, err := BuildAgentCommand(s.session, s.prompt, false)
	if err != nil {
		m.failRestart(s, preserved)
		return
	}

	proc, err := m.spawn(ProcessOptions{
		Argv: cmd.Argv,
		Dir:  s.session.WorkspacePath,
		Env:  cmd.Env,
		Cols: 120,
		Rows: 40,
		OnData: func(data []byte) {
			m.handleOutput(s, data)
		},
		OnExit: func(exitCode int) {
			m.handleExit(s, exitCode)
		},
	})
	if err != nil {
		logger.Errorf("respawn after stale conversation failed for session %s: %v", s.sessionID, err)
		m.failRestart(s, preserved)
		return
	}

	s.mu.Lock()
	s.process = proc
	s.mu.Unlock()

	logger.Infof("session %s restarted with a fresh conversation", s.sessionID)

	if s.session.Agent == models.AgentClaude {
		m.persistConversationID(s, s.sessionID)
	}
	if cmd.DiscoverConversation {
		go m.discoverConversationID(s, cmd.BeforeIDs)
	}

	// Give the new CLI a beat to start before clients see its output
	time.AfterFunc(m.cfg.RestartAttachDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gone {
			return
		}
		for _, client := range preserved {
			if client.Open() {
				s.clients[client] = struct{}{}
				s.pendingBytes[client] = 0
			}
		}
	})
}

// failRestart gives up on a silent restart: clients get the exit event after
// all and the registry entry goes away
func (m *TerminalManager) failRestart(s *PtySession, preserved []TerminalClient) {
	code := -1
	exitMsg := models.ServerMessage{
		Type:      models.MessageTypeExit,
		SessionID: s.sessionID,
		ExitCode:  &code,
	}
	for _, client := range preserved {
		if client.Open() {
			_ = client.Send(exitMsg)
		}
	}

	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()

	m.mu.Lock()
	if m.sessions[s.sessionID] == s {
		delete(m.sessions, s.sessionID)
	}
	m.mu.Unlock()
}

func (m *TerminalManager) stopTimersLocked(s *PtySession) {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.pauseTimer != nil {
		s.pauseTimer.Stop()
		s.pauseTimer = nil
	}
}

func (m *TerminalManager) persistConversationID(s *PtySession, conversationID string) {
	s.mu.Lock()
	s.session.ConversationID = conversationID
	s.mu.Unlock()
	if m.persister == nil {
		return
	}
	if err := m.persister.PersistConversationID(s.sessionID, conversationID); err != nil {
		logger.Warnf("failed to persist conversation id for session %s: %v", s.sessionID, err)
	}
}

// discoverConversationID polls the copilot session-state directory for the
// subdirectory that appeared after spawn
func (m *TerminalManager) discoverConversationID(s *PtySession, beforeIDs map[string]struct{}) {
	for attempt := 0; attempt < m.cfg.DiscoverAttempts; attempt++ {
		time.Sleep(m.cfg.DiscoverInterval)
		if !m.IsActive(s.sessionID) {
			return
		}
		if id := findNewCopilotSession(beforeIDs); id != "" {
			logger.Infof("discovered conversation id %s for session %s", id, s.sessionID)
			m.persistConversationID(s, id)
			return
		}
	}
	logger.Warnf("no conversation id discovered for session %s after %d attempts; session will not be resumable", s.sessionID, m.cfg.DiscoverAttempts)
}
