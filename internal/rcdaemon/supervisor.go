package rcdaemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"syncdock/internal/config"
	"syncdock/internal/logging"
	"syncdock/internal/rcclient"
)

var commandContext = exec.CommandContext

// State describes the supervisor lifecycle.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StatePolling
	StateReady
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateReady:
		return "ready"
	default:
		return "stopped"
	}
}

// ErrNotReady indicates the daemon rc endpoint is unavailable.
var ErrNotReady = errors.New("daemon rc endpoint not ready")

// Supervisor owns the daemon subprocess and its readiness state.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger
	probe  func(ctx context.Context, addr, user, pass string) error
	onExit func()

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	user     string
	pass     string
	stopping bool
	waitDone chan error
}

// Option configures optional Supervisor behavior.
type Option func(*Supervisor)

// WithProbe overrides the readiness probe, used in tests.
func WithProbe(probe func(ctx context.Context, addr, user, pass string) error) Option {
	return func(s *Supervisor) {
		if probe != nil {
			s.probe = probe
		}
	}
}

// WithExitHandler registers a callback fired when the daemon exits
// unexpectedly while ready.
func WithExitHandler(fn func()) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

// SetExitHandler registers the unexpected-exit callback after construction,
// for callers that need the supervisor to exist before the handler can.
// Must be called before Start.
func (s *Supervisor) SetExitHandler(fn func()) {
	s.onExit = fn
}

// New constructs a supervisor for the configured daemon binary.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "rcdaemon"),
		probe:  defaultProbe,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultProbe(ctx context.Context, addr, user, pass string) error {
	client := rcclient.New(addr, user, pass, rcclient.WithTimeout(2*time.Second))
	_, err := client.Call(ctx, "core/version", nil)
	return err
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the rc endpoint is serving requests.
func (s *Supervisor) Ready() bool {
	return s.State() == StateReady
}

// Endpoint returns the rc address while the daemon is ready, else "".
func (s *Supervisor) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return ""
	}
	return s.cfg.Daemon.RCAddr
}

// Credentials returns the basic-auth pair in effect for the current run.
func (s *Supervisor) Credentials() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.pass
}

// PID returns the daemon process id, or 0 when not running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Start spawns the daemon and polls until the rc endpoint answers or the
// startup deadline elapses. On deadline the process is killed and the
// supervisor returns to Stopped.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("daemon already %s", s.state)
	}
	if !s.cfg.Daemon.RCEnabled {
		s.mu.Unlock()
		return errors.New("rc channel disabled in configuration")
	}

	user := strings.TrimSpace(s.cfg.Daemon.RCUser)
	pass := strings.TrimSpace(s.cfg.Daemon.RCPass)
	if user == "" || pass == "" {
		user = "syncdock"
		pass = uuid.NewString()
	}

	args := buildArgs(s.cfg, user, pass)
	// The process must outlive the startup context; termination is explicit.
	cmd := commandContext(context.Background(), s.cfg.Daemon.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err == nil {
		cmd.Stderr = cmd.Stdout
		go s.drainOutput(stdout)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("spawn daemon %s: %w", s.cfg.Daemon.Binary, err)
	}

	waitDone := make(chan error, 1)
	s.cmd = cmd
	s.user = user
	s.pass = pass
	s.stopping = false
	s.waitDone = waitDone
	s.state = StateStarting
	s.mu.Unlock()

	go func() {
		waitDone <- cmd.Wait()
		close(waitDone)
		s.handleExit()
	}()

	s.logger.Info("daemon spawned",
		logging.String("binary", s.cfg.Daemon.Binary),
		logging.String("addr", s.cfg.Daemon.RCAddr),
		logging.Int("pid", cmd.Process.Pid))

	grace := time.Duration(s.cfg.Daemon.StartupGraceSeconds) * time.Second
	deadline := time.Now().Add(time.Duration(s.cfg.Daemon.StartupTimeoutSeconds) * time.Second)
	pollEvery := time.Duration(s.cfg.Daemon.PollIntervalSeconds) * time.Second

	if grace > 0 {
		select {
		case <-time.After(grace):
		case err := <-waitDone:
			return s.failStartup(fmt.Errorf("daemon exited during startup: %w", exitReason(err)))
		case <-ctx.Done():
			return s.failStartup(ctx.Err())
		}
	}

	s.setState(StatePolling)
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		probeErr := s.probe(probeCtx, s.cfg.Daemon.RCAddr, user, pass)
		cancel()
		if probeErr == nil {
			s.setState(StateReady)
			s.logger.Info("daemon ready", logging.String("addr", s.cfg.Daemon.RCAddr))
			return nil
		}
		if time.Now().After(deadline) {
			return s.failStartup(fmt.Errorf("daemon did not become ready within %s", time.Duration(s.cfg.Daemon.StartupTimeoutSeconds)*time.Second))
		}
		select {
		case <-time.After(pollEvery):
		case err := <-waitDone:
			return s.failStartup(fmt.Errorf("daemon exited during startup: %w", exitReason(err)))
		case <-ctx.Done():
			return s.failStartup(ctx.Err())
		}
	}
}

func (s *Supervisor) failStartup(cause error) error {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	s.stopping = true
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if waitDone != nil {
		select {
		case <-waitDone:
		case <-time.After(2 * time.Second):
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.cmd = nil
	s.waitDone = nil
	s.mu.Unlock()
	return cause
}

// Stop terminates the daemon: SIGTERM, bounded wait, then SIGKILL.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	if cmd == nil || cmd.Process == nil {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}

	grace := time.Duration(s.cfg.Daemon.StopGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-waitDone:
	case <-time.After(grace):
		_ = cmd.Process.Kill()
		select {
		case <-waitDone:
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.cmd = nil
	s.waitDone = nil
	s.mu.Unlock()
	s.logger.Info("daemon stopped")
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// handleExit runs when the daemon process terminates. Deliberate stops are
// absorbed; an exit while Ready clears state and notifies dependents.
func (s *Supervisor) handleExit() {
	s.mu.Lock()
	wasReady := s.state == StateReady
	deliberate := s.stopping
	if !deliberate {
		s.state = StateStopped
		s.cmd = nil
		s.waitDone = nil
	}
	s.mu.Unlock()

	if deliberate || !wasReady {
		return
	}
	s.logger.Warn("daemon exited unexpectedly")
	if s.onExit != nil {
		s.onExit()
	}
}

func (s *Supervisor) drainOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.logger.Debug("daemon output", logging.String("line", line))
	}
}

func exitReason(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}
	return err
}

// buildArgs assembles the deterministic daemon argument set. No shell is
// involved; values are passed as discrete argv entries.
func buildArgs(cfg *config.Config, user, pass string) []string {
	args := []string{
		"rcd",
		"--rc-addr", cfg.Daemon.RCAddr,
		"--rc-user", user,
		"--rc-pass", pass,
	}
	if origin := strings.TrimSpace(cfg.Daemon.AllowOrigin); origin != "" {
		args = append(args, "--rc-allow-origin", origin)
	}
	if path := strings.TrimSpace(cfg.Daemon.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if dir := strings.TrimSpace(cfg.Daemon.CacheDir); dir != "" {
		args = append(args, "--cache-dir", dir)
	}
	return args
}
