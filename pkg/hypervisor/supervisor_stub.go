//go:build !darwin && !linux

package hypervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Supervisor is unavailable on this platform.
type Supervisor struct{}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger is accepted for API parity and ignored.
func WithSupervisorLogger(*zap.Logger) SupervisorOption {
	return func(*Supervisor) {}
}

// NewSupervisor returns a Supervisor whose Start always fails.
func NewSupervisor(...SupervisorOption) *Supervisor {
	return &Supervisor{}
}

// Start returns ErrUnsupportedPlatform.
func (s *Supervisor) Start(context.Context, Launch) (ProcessHandle, error) {
	return ProcessHandle{}, ErrUnsupportedPlatform
}

// StopController is unavailable on this platform.
type StopController struct{}

// StopOption configures a StopController.
type StopOption func(*StopController)

// The stop options are accepted for API parity and ignored.
func WithGracePeriod(time.Duration) StopOption { return func(*StopController) {} }
func WithKillWait(time.Duration) StopOption { return func(*StopController) {} }
func WithProber(Prober) StopOption { return func(*StopController) {} }
func WithStopLogger(*zap.Logger) StopOption { return func(*StopController) {} }

// NewStopController returns a StopController whose Stop always fails.
func NewStopController(...StopOption) *StopController {
	return &StopController{}
}

// Stop returns ErrUnsupportedPlatform.
func (s *StopController) Stop(context.Context, Target) error {
	return ErrUnsupportedPlatform
}
