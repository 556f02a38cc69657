//go:build linux || darwin

package hypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// Supervisor spawns hypervisor processes detached from the caller. It does
// not wait for them to exit; a background goroutine only reaps them.
type Supervisor struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	consoles map[int]*os.File
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(l *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		logger:   zap.NewNop(),
		now:      time.Now,
		consoles: make(map[int]*os.File),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns l.Argv in a new session with output redirected to a fresh,
// timestamped log file. It returns once the OS has confirmed the launch.
func (s *Supervisor) Start(ctx context.Context, l Launch) (ProcessHandle, error) {
	if len(l.Argv) == 0 {
		return ProcessHandle{}, &CommandError{Err: ErrEmptyArgv}
	}
	if err := ctx.Err(); err != nil {
		return ProcessHandle{}, &CommandError{Argv: l.Argv, Err: err}
	}

	if err := os.MkdirAll(l.LogsDir, 0755); err != nil {
		return ProcessHandle{}, &CommandError{Argv: l.Argv, Err: fmt.Errorf("create logs dir: %w", err)}
	}
	logPath := filepath.Join(l.LogsDir, LogFileName(l.ID, s.now()))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return ProcessHandle{}, &CommandError{Argv: l.Argv, Err: fmt.Errorf("open log file: %w", err)}
	}
	// The child holds its own descriptor once started.
	defer logFile.Close()

	// Not CommandContext: the process must outlive the request that started it.
	cmd := exec.Command(l.Argv[0], l.Argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var console *os.File
	if l.Console == ConsolePTY {
		master, tty, err := pty.Open()
		if err != nil {
			return ProcessHandle{}, &CommandError{Argv: l.Argv, Err: fmt.Errorf("open pty: %w", err)}
		}
		defer tty.Close()
		cmd.Stdin = tty
		cmd.SysProcAttr.Setctty = true
		cmd.SysProcAttr.Ctty = 0
		console = master
	}

	if err := cmd.Start(); err != nil {
		if console != nil {
			console.Close()
		}
		return ProcessHandle{}, &CommandError{Argv: l.Argv, Err: err}
	}

	pid := cmd.Process.Pid
	started := StartTime(pid)
	if started.IsZero() {
		started = s.now()
	}

	if console != nil {
		s.mu.Lock()
		s.consoles[pid] = console
		s.mu.Unlock()
	}

	go s.reap(l.ID, cmd)

	s.logger.Info("hypervisor started",
		zap.String("machine", l.ID),
		zap.Int("pid", pid),
		zap.String("log", logPath),
		zap.String("console", string(l.Console)),
	)

	return ProcessHandle{PID: pid, LogPath: logPath, StartedAt: started}, nil
}

// Console returns the pty master of a running process started with
// ConsolePTY.
func (s *Supervisor) Console(pid int) (*os.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.consoles[pid]
	return f, ok
}

// reap waits for the process so it does not linger as a zombie, then
// releases its console.
func (s *Supervisor) reap(id string, cmd *exec.Cmd) {
	err := cmd.Wait()
	pid := cmd.Process.Pid

	s.mu.Lock()
	if f, ok := s.consoles[pid]; ok {
		f.Close()
		delete(s.consoles, pid)
	}
	s.mu.Unlock()

	fields := []zap.Field{zap.String("machine", id), zap.Int("pid", pid)}
	if err != nil {
		s.logger.Info("hypervisor exited", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("hypervisor exited", fields...)
}

// LogFileName returns the log file name for a run of machine id started at t.
func LogFileName(id string, t time.Time) string {
	return fmt.Sprintf("%s-%s.log", id, t.UTC().Format("20060102T150405.000000000Z"))
}
