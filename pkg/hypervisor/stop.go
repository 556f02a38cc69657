//go:build linux || darwin

package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const defaultPollInterval = 50 * time.Millisecond

// StopController terminates hypervisor process groups: SIGTERM, a bounded
// grace period, then SIGKILL and a final liveness check.
type StopController struct {
	// GracePeriod is how long to wait after SIGTERM before escalating.
	GracePeriod time.Duration

	// KillWait is how long to wait after SIGKILL before giving up.
	KillWait time.Duration

	// PollInterval is the liveness polling period.
	PollInterval time.Duration

	prober Prober
	kill   func(pid int, sig unix.Signal) error
	logger *zap.Logger
}

// StopOption configures a StopController.
type StopOption func(*StopController)

// WithGracePeriod sets the SIGTERM grace period.
func WithGracePeriod(d time.Duration) StopOption {
	return func(s *StopController) {
		s.GracePeriod = d
	}
}

// WithKillWait sets the post-SIGKILL wait.
func WithKillWait(d time.Duration) StopOption {
	return func(s *StopController) {
		s.KillWait = d
	}
}

// WithProber replaces the liveness probe.
func WithProber(p Prober) StopOption {
	return func(s *StopController) {
		s.prober = p
	}
}

// WithStopLogger sets the logger.
func WithStopLogger(l *zap.Logger) StopOption {
	return func(s *StopController) {
		s.logger = l
	}
}

// NewStopController creates a StopController with default timings.
func NewStopController(opts ...StopOption) *StopController {
	s := &StopController{
		GracePeriod:  DefaultGracePeriod,
		KillWait:     DefaultKillWait,
		PollInterval: defaultPollInterval,
		prober:       SystemProber,
		kill:         unix.Kill,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	return s
}

// Stop terminates t's process group. A target with no pid, or whose process
// is already gone, is a successful no-op.
func (s *StopController) Stop(ctx context.Context, t Target) error {
	if !s.prober.Alive(t.PID, t.StartedAt) {
		return nil
	}

	if err := s.signalGroup(t.PID, unix.SIGTERM); err != nil {
		return &StopCommandError{Name: t.Name, PID: t.PID, Err: fmt.Errorf("send SIGTERM: %w", err)}
	}
	if s.waitExit(ctx, t, s.GracePeriod) {
		return nil
	}

	s.logger.Warn("grace period expired, sending SIGKILL",
		zap.String("machine", t.Name),
		zap.Int("pid", t.PID),
		zap.Duration("grace", s.GracePeriod),
	)
	if err := s.signalGroup(t.PID, unix.SIGKILL); err != nil {
		return &StopCommandError{Name: t.Name, PID: t.PID, Err: fmt.Errorf("send SIGKILL: %w", err)}
	}
	if s.waitExit(ctx, t, s.KillWait) {
		return nil
	}

	return &StopCommandError{Name: t.Name, PID: t.PID, Err: ErrStillAlive}
}

// signalGroup signals the whole process group led by pid, falling back to
// the single process when pid does not lead a group.
func (s *StopController) signalGroup(pid int, sig unix.Signal) error {
	err := s.kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		err = s.kill(pid, sig)
	}
	if errors.Is(err, unix.ESRCH) {
		return nil // Exited in the meantime
	}
	return err
}

// waitExit polls until the process is gone or d elapses. Context
// cancellation cuts the wait short.
func (s *StopController) waitExit(ctx context.Context, t Target, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(s.PollInterval)
	defer tick.Stop()

	for {
		if !s.prober.Alive(t.PID, t.StartedAt) {
			return true
		}
		select {
		case <-ctx.Done():
			return !s.prober.Alive(t.PID, t.StartedAt)
		case <-deadline.C:
			return !s.prober.Alive(t.PID, t.StartedAt)
		case <-tick.C:
		}
	}
}
