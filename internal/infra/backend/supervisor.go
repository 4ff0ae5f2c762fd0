package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotConfigured = errors.New("no backend command configured")

type Config struct {
	Command   []string
	Dir       string
	Env       []string
	HealthURL string
	// StopTimeout bounds how long Stop waits after interrupting before it kills.
	StopTimeout time.Duration
}

type Status struct {
	Running   bool
	PID       int
	StartedAt time.Time
	// LastExit is the error from the previous run, nil for a clean exit.
	LastExit error
}

// Supervisor owns the conversational backend process. At most one process
// runs at a time; Start is a no-op while it is alive.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	health *resty.Client

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{}
	startedAt time.Time
	lastExit  error
}

func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With("component", "backend"),
		health: resty.New().SetTimeout(2 * time.Second),
	}
}

// Start launches the backend. It reports whether a new process was started.
func (s *Supervisor) Start(_ context.Context) (bool, error) {
	if len(s.cfg.Command) == 0 {
		return false, ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		s.logger.Debug("backend already running", "pid", s.cmd.Process.Pid)
		return false, nil
	}

	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)

	cmd.Stdout = &lineWriter{logger: s.logger, level: slog.LevelInfo, stream: "stdout"}
	cmd.Stderr = &lineWriter{logger: s.logger, level: slog.LevelWarn, stream: "stderr"}
	// Bounds how long Wait blocks on output held open by orphaned children.
	cmd.WaitDelay = s.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("starting %s: %w", s.cfg.Command[0], err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.startedAt = time.Now()

	go func() {
		err := cmd.Wait()

		s.mu.Lock()
		s.cmd = nil
		s.lastExit = err
		s.mu.Unlock()
		close(done)

		if err != nil {
			s.logger.Warn("backend exited", "error", err)
		} else {
			s.logger.Info("backend exited")
		}
	}()

	s.logger.Info("backend started", "pid", cmd.Process.Pid, "command", s.cfg.Command)
	return true, nil
}

// lineWriter logs each complete line written to it.
type lineWriter struct {
	logger *slog.Logger
	level  slog.Level
	stream string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if line != "" {
			w.logger.Log(context.Background(), w.level, line, "stream", w.stream)
		}
	}
	return len(p), nil
}

// Stop interrupts the backend and waits for it to exit, killing it after the
// stop timeout or when ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		s.logger.Debug("interrupt failed, killing", "error", err)
		cmd.Process.Kill()
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("backend did not exit, killing", "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing backend: %w", err)
	}
	<-done
	return nil
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{LastExit: s.lastExit}
	if s.cmd != nil {
		st.Running = true
		st.PID = s.cmd.Process.Pid
		st.StartedAt = s.startedAt
	}
	return st
}

// WaitReady polls the health URL until it answers 2xx, the process exits or
// ctx is done. Without a health URL it returns immediately.
func (s *Supervisor) WaitReady(ctx context.Context, interval time.Duration) error {
	if s.cfg.HealthURL == "" {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := s.health.R().SetContext(ctx).Get(s.cfg.HealthURL)
		if err == nil && resp.IsSuccess() {
			s.logger.Info("backend ready", "url", s.cfg.HealthURL)
			return nil
		}

		s.mu.Lock()
		running, lastExit := s.cmd != nil, s.lastExit
		s.mu.Unlock()
		if !running && len(s.cfg.Command) > 0 {
			return fmt.Errorf("backend exited before becoming ready: %v", lastExit)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for backend: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
