package services

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/agentdeck/agentdeck/internal/logger"
)

// ProcessOptions describes how to spawn an agent CLI under a PTY
type ProcessOptions struct {
	Argv []string
	Dir  string
	Env  []string
	Cols uint16
	Rows uint16
	// OnData receives each raw chunk read from the PTY master. Chunks are
	// delivered in read order, one call at a time.
	OnData func(data []byte)
	// OnExit receives the process exit code after the read loop drains
	OnExit func(exitCode int)
}

// PtyProcess owns one CLI process and the master side of its PTY.
//
// Pause stops the read loop from draining the master, which fills the kernel
// PTY buffer and eventually blocks the CLI on write. That is the flow-control
// substrate backpressure relies on; it is a real throttle, not drop-on-floor.
type PtyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
}

// StartProcess spawns argv under a new PTY and begins draining output
func StartProcess(opts ProcessOptions) (*PtyProcess, error) {
	if len(opts.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 40
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	p := &PtyProcess{
		cmd:  cmd,
		ptmx: ptmx,
	}
	p.cond = sync.NewCond(&p.mu)

	go p.readLoop(opts.OnData, opts.OnExit)

	return p, nil
}

func (p *PtyProcess) readLoop(onData func([]byte), onExit func(int)) {
	buf := make([]byte, 4096)
	for {
		p.mu.Lock()
		for p.paused && !p.closed {
			p.cond.Wait()
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			break
		}

		n, err := p.ptmx.Read(buf)
		if n > 0 && onData != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			onData(data)
		}
		if err != nil {
			// EOF or I/O error on /dev/ptmx means the child side is gone
			break
		}
	}

	exitCode := 0
	if err := p.cmd.Wait(); err != nil {
		if p.cmd.ProcessState != nil {
			exitCode = p.cmd.ProcessState.ExitCode()
		} else {
			exitCode = -1
		}
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.ptmx.Close()

	if onExit != nil {
		onExit(exitCode)
	}
}

// Write sends raw bytes to the CLI's stdin
func (p *PtyProcess) Write(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pty is closed")
	}
	p.mu.Unlock()

	if _, err := p.ptmx.Write(data); err != nil {
		return fmt.Errorf("pty write failed: %w", err)
	}
	return nil
}

// Resize changes the PTY window size
func (p *PtyProcess) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Pause stops draining the PTY master until Resume or Kill
func (p *PtyProcess) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume restarts draining after Pause
func (p *PtyProcess) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Kill terminates the process. The exit callback fires from the read loop
// once the PTY drains.
func (p *PtyProcess) Kill() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			logger.Debugf("kill failed (process likely exited): %v", err)
		}
	}
}
