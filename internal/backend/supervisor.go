// Package backend supervises app backends: it forks one child process per
// backend, performs the ready handshake, forwards messages, and tears the
// process down on Terminate. Children speak a JSON-line protocol over
// stdio, or over an attached pty for terminal-style backends.
package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/manifest"
)

// SpawnOptions describes one backend child process.
type SpawnOptions struct {
	AppID           string
	BackendEntry    string
	InstallPath     string
	Manifest        *manifest.Manifest
	LaunchArgs      []string
	PTY             bool // attach a pseudo-terminal instead of plain pipes
}

// MessageHandler receives every line a backend sends that is not part of
// the ready handshake.
type MessageHandler func(appID string, payload map[string]any)

type child struct {
	appID  string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	ptmx   *os.File
	ready  chan error
	exited chan struct{}
}

// Supervisor owns every running backend child process.
type Supervisor struct {
	mu          sync.Mutex
	children    map[string]*child
	terminating map[string]bool
	onMsg       MessageHandler
	onExit      func(appID string)
	logger      *slog.Logger
}

// New constructs an empty Supervisor. onMsg, if non-nil, is invoked for
// every non-handshake line a backend writes. onExit, if non-nil, is
// invoked when a backend exits on its own rather than via Terminate — the
// Process Manager uses this to emit process/exited and clean up.
func New(onMsg MessageHandler, onExit func(appID string), logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		children:    make(map[string]*child),
		terminating: make(map[string]bool),
		onMsg:       onMsg,
		onExit:      onExit,
		logger:      logger,
	}
}

// Start spawns opts's backend and blocks until the ready handshake
// completes, a backend-error arrives, or BackendStartupTimeout elapses.
// ctx bounds only the handshake; a backend that signaled ready keeps
// running until Terminate or its own exit.
func (s *Supervisor) Start(ctx context.Context, opts SpawnOptions) error {
	s.mu.Lock()
	if _, running := s.children[opts.AppID]; running {
		s.mu.Unlock()
		return edenerr.New(edenerr.AlreadyExists, "backend for app %s is already running", opts.AppID)
	}
	s.mu.Unlock()

	manifestJSON, err := json.Marshal(opts.Manifest)
	if err != nil {
		return edenerr.Wrap(edenerr.BadFormat, err, "marshaling manifest for backend %s", opts.AppID)
	}

	cmd := exec.Command(opts.BackendEntry, opts.LaunchArgs...)
	cmd.Dir = opts.InstallPath
	cmd.Env = append(os.Environ(),
		"EDEN_APP_ID="+opts.AppID,
		"EDEN_INSTALL_PATH="+opts.InstallPath,
		"EDEN_BACKEND_ENTRY="+opts.BackendEntry,
		"EDEN_MANIFEST="+string(manifestJSON),
	)

	c := &child{appID: opts.AppID, cmd: cmd, ready: make(chan error, 1), exited: make(chan struct{})}

	var reader io.Reader
	if opts.PTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return edenerr.Wrap(edenerr.StartupFailure, err, "starting backend %s under pty", opts.AppID)
		}
		c.ptmx = ptmx
		c.stdin = ptmx
		reader = ptmx
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return edenerr.Wrap(edenerr.StartupFailure, err, "opening stdin for backend %s", opts.AppID)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return edenerr.Wrap(edenerr.StartupFailure, err, "opening stdout for backend %s", opts.AppID)
		}
		if err := cmd.Start(); err != nil {
			return edenerr.Wrap(edenerr.StartupFailure, err, "starting backend %s", opts.AppID)
		}
		c.stdin = stdin
		reader = stdout
	}

	go s.readLoop(c, reader)
	go func() {
		_ = cmd.Wait()
		close(c.exited)
	}()

	s.mu.Lock()
	s.children[opts.AppID] = c
	s.mu.Unlock()

	select {
	case err := <-c.ready:
		if err != nil {
			s.killHard(c)
			s.cleanup(opts.AppID)
			return edenerr.Wrap(edenerr.StartupFailure, err, "backend %s reported a startup error", opts.AppID)
		}
		go s.watchForUnsolicitedExit(c)
		return nil
	case <-c.exited:
		s.cleanup(opts.AppID)
		return edenerr.New(edenerr.StartupFailure, "backend %s exited before signaling ready", opts.AppID)
	case <-time.After(config.BackendStartupTimeout * time.Second):
		s.killHard(c)
		s.cleanup(opts.AppID)
		return edenerr.New(edenerr.StartupFailure, "backend %s did not signal ready within %ds", opts.AppID, config.BackendStartupTimeout)
	case <-ctx.Done():
		s.killHard(c)
		s.cleanup(opts.AppID)
		return ctx.Err()
	}
}

// watchForUnsolicitedExit waits for c's process to exit and, if that exit
// was not the result of a Terminate() call already in flight, cleans up
// the bookkeeping and reports the crash via onExit so the Process Manager
// can emit process/exited rather than process/stopped.
func (s *Supervisor) watchForUnsolicitedExit(c *child) {
	<-c.exited

	s.mu.Lock()
	_, stillRegistered := s.children[c.appID]
	solicited := s.terminating[c.appID]
	s.mu.Unlock()

	if !stillRegistered || solicited {
		return
	}

	s.cleanup(c.appID)
	if s.onExit != nil {
		s.onExit(c.appID)
	}
}

func (s *Supervisor) readLoop(c *child, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	readySignaled := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Warn("backend sent a non-JSON line", "app_id", c.appID, "line", line)
			continue
		}
		msgType, _ := msg["type"].(string)
		switch {
		case !readySignaled && msgType == "backend-ready":
			readySignaled = true
			c.ready <- nil
		case !readySignaled && msgType == "backend-error":
			readySignaled = true
			c.ready <- fmt.Errorf("%v", msg["error"])
		default:
			if s.onMsg != nil {
				s.onMsg(c.appID, msg)
			}
		}
	}
}

// Send posts msg to the named app's backend.
func (s *Supervisor) Send(appID string, msg map[string]any) error {
	s.mu.Lock()
	c, ok := s.children[appID]
	s.mu.Unlock()
	if !ok {
		return edenerr.New(edenerr.NotFound, "no running backend for app %s", appID)
	}
	return writeLine(c.stdin, msg)
}

// SendWithPorts posts msg to appID's backend with a logical set of
// MessagePort identifiers attached. There is no OS-level handle transfer
// across a process boundary here — port ownership is tracked by
// internal/channel and communicated by identifier, which the backend
// runtime on the other side correlates against its own port table.
func (s *Supervisor) SendWithPorts(appID string, msg map[string]any, ports []string) error {
	withPorts := make(map[string]any, len(msg)+1)
	for k, v := range msg {
		withPorts[k] = v
	}
	withPorts["ports"] = ports
	return s.Send(appID, withPorts)
}

// Terminate posts a shutdown message, waits BackendShutdownGrace for a
// voluntary exit, then kills. The whole sequence is bounded by
// BackendShutdownHardCap regardless of outcome.
func (s *Supervisor) Terminate(appID string) error {
	s.mu.Lock()
	c, ok := s.children[appID]
	if ok {
		s.terminating[appID] = true
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	defer func() {
		s.mu.Lock()
		delete(s.terminating, appID)
		s.mu.Unlock()
	}()

	deadline := time.After(config.BackendShutdownHardCap * time.Second)
	_ = writeLine(c.stdin, map[string]any{"type": "shutdown"})

	select {
	case <-c.exited:
		s.cleanup(appID)
		return nil
	case <-time.After(config.BackendShutdownGrace * time.Millisecond):
	}

	s.killHard(c)

	select {
	case <-c.exited:
	case <-deadline:
		s.logger.Warn("backend did not exit within the hard shutdown cap", "app_id", appID)
	}
	s.cleanup(appID)
	return nil
}

func (s *Supervisor) killHard(c *child) {
	if c.cmd.Process == nil {
		return
	}
	_ = unix.Kill(c.cmd.Process.Pid, unix.SIGTERM)
	select {
	case <-c.exited:
		return
	case <-time.After(200 * time.Millisecond):
	}
	_ = unix.Kill(c.cmd.Process.Pid, unix.SIGKILL)
}

func (s *Supervisor) cleanup(appID string) {
	s.mu.Lock()
	c, ok := s.children[appID]
	if ok {
		delete(s.children, appID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.ptmx != nil {
		_ = c.ptmx.Close()
	}
}

// Running reports whether appID currently has a live backend.
func (s *Supervisor) Running(appID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.children[appID]
	return ok
}

func writeLine(w io.Writer, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
