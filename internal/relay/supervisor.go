// Package relay supervises the external relay process: one long-running
// subprocess whose combined stdout/stderr is streamed, classified into a
// coarse state, and whose lifecycle must survive repeated start/stop
// cycles without leaking orphans.
package relay

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// State is the supervisor's view of the relay process.
type State string

const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateWaiting   State = "waiting"
	StateConnected State = "connected"
	StateFailed    State = "failed"
)

var (
	// ErrBinaryNotFound means the relay executable does not exist at the
	// configured path.
	ErrBinaryNotFound = errors.New("relay binary not found")
)

const stopTimeout = 2 * time.Second

// Callbacks is the supervisor's outward surface. OnOutput receives every
// non-empty output line verbatim; OnState fires once per state change,
// never for repeats. Both run on the supervisor's reader goroutine.
type Callbacks struct {
	OnOutput func(line string)
	OnState  func(state State)
}

// Supervisor starts, stops, and monitors one relay process.
type Supervisor struct {
	binary    string
	args      []string
	callbacks Callbacks
	logger    *slog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	state State
}

// NewSupervisor creates a supervisor for the given binary. Args are
// passed through verbatim; the relay convention is a single "relay"
// argument selecting server mode.
func NewSupervisor(binary string, args []string, callbacks Callbacks, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		binary:    binary,
		args:      args,
		callbacks: callbacks,
		logger:    logger,
		state:     StateStopped,
	}
}

// Start launches the relay process with stdout and stderr merged into a
// single stream consumed by a reader goroutine. Calling Start while the
// process is already alive is a no-op returning nil.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.cmd != nil && s.cmd.Process != nil && pidAlive(s.cmd.Process.Pid) {
		s.mu.Unlock()
		s.logger.Debug("Relay already running", "pid", s.cmd.Process.Pid)
		return nil
	}
	s.cmd = nil
	s.mu.Unlock()

	path, err := resolveBinary(s.binary)
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(path, s.args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	s.logger.Info("Starting relay", "binary", path, "args", strings.Join(s.args, " "))
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		s.setState(StateFailed)
		return fmt.Errorf("failed to spawn relay: %w", err)
	}
	// The parent's write end must be closed so the reader sees EOF when
	// the child exits.
	pw.Close()

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()
	s.setState(StateStarting)

	go s.readOutput(pr, cmd)
	return nil
}

// Stop terminates the relay: graceful signal, bounded wait, force kill,
// then a best-effort sweep for same-named orphans covering the case
// where the tracked handle was lost but a relay is still running. Stop
// never fails and always leaves the supervisor in Stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		s.logger.Info("Stopping relay", "pid", pid)

		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			// Interrupt unsupported or process already gone; force kill
			// handles both below.
			s.logger.Debug("Graceful signal failed", "pid", pid, "error", err)
		}

		deadline := time.Now().Add(stopTimeout)
		for time.Now().Before(deadline) && pidAlive(pid) {
			time.Sleep(50 * time.Millisecond)
		}
		if pidAlive(pid) {
			s.logger.Warn("Relay did not exit gracefully, force killing", "pid", pid)
			cmd.Process.Kill()
		}
	}

	if n := KillStrayProcesses(processName(s.binary), s.logger); n > 0 {
		s.logger.Warn("Killed stray relay processes", "count", n)
	}

	s.setState(StateStopped)
}

// IsRunning reports whether the relay process is alive right now. The
// OS is consulted each call; a cached handle alone is not trusted.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	return cmd != nil && cmd.Process != nil && pidAlive(cmd.Process.Pid)
}

// State returns the last classified relay state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// readOutput consumes the merged output stream line by line, forwarding
// each non-empty line and feeding the classifier. Stream EOF while the
// supervisor still owns the process means the relay died on its own.
func (s *Supervisor) readOutput(r *os.File, cmd *exec.Cmd) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.callbacks.OnOutput != nil {
			s.callbacks.OnOutput(line)
		}

		s.mu.Lock()
		next, changed := Classify(s.state, line)
		if changed {
			s.state = next
		}
		s.mu.Unlock()
		if changed && s.callbacks.OnState != nil {
			s.callbacks.OnState(next)
		}
	}

	// Reap the child regardless of how the stream ended.
	waitErr := cmd.Wait()

	// Only release the handle if it is still ours. Stop() may have taken
	// it, or Start() may have replaced it with a new process while this
	// reader was draining; either way the exit is not ours to report.
	s.mu.Lock()
	owner := s.cmd == cmd
	if owner {
		s.cmd = nil
	}
	s.mu.Unlock()

	if !owner {
		return
	}

	s.logger.Warn("Relay process exited unexpectedly", "pid", cmd.Process.Pid, "error", waitErr)
	s.setState(StateStopped)
}

// setState records a state and emits the status callback on change.
func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	if s.callbacks.OnState != nil {
		s.callbacks.OnState(state)
	}
}

// resolveBinary locates the relay executable, distinguishing a missing
// binary from other spawn failures.
func resolveBinary(binary string) (string, error) {
	if strings.ContainsRune(binary, os.PathSeparator) {
		if _, err := os.Stat(binary); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
			}
			return "", fmt.Errorf("failed to stat relay binary: %w", err)
		}
		return binary, nil
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}
	return path, nil
}

// pidAlive asks the OS whether the process exists.
func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}

// processName strips directory and extension so sweep matching works on
// both unix and Windows process listings.
func processName(binary string) string {
	name := filepath.Base(binary)
	return strings.TrimSuffix(name, ".exe")
}
