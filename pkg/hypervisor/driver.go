// Package hypervisor builds QEMU invocations and supervises the resulting
// processes: spawning them detached, probing their liveness, and stopping them.
package hypervisor

import (
	"context"
	"time"
)

// Stop timing defaults.
const (
	DefaultGracePeriod = 3 * time.Second
	DefaultKillWait    = 2 * time.Second
)

// Launcher starts hypervisor processes.
type Launcher interface {
	Start(ctx context.Context, l Launch) (ProcessHandle, error)
}

// Terminator stops hypervisor processes.
type Terminator interface {
	Stop(ctx context.Context, t Target) error
}

// Prober reports whether a recorded process is still alive.
type Prober interface {
	Alive(pid int, startedAt time.Time) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(pid int, startedAt time.Time) bool

// Alive calls f.
func (f ProberFunc) Alive(pid int, startedAt time.Time) bool {
	return f(pid, startedAt)
}

// SystemProber probes processes through the OS process table.
var SystemProber Prober = ProberFunc(Alive)

// Launch describes one hypervisor process to start.
type Launch struct {
	// ID names the machine; it prefixes the log file name.
	ID string

	// Argv is the full command, argv[0] being the executable.
	Argv []string

	// LogsDir is the per-machine log directory, created on demand.
	LogsDir string

	// Console selects what stdin is bound to. Empty means ConsoleNone.
	Console Console
}

// ProcessHandle identifies a launched hypervisor process. It is returned by
// the supervisor and recorded by the caller; the supervisor never persists it.
type ProcessHandle struct {
	// PID is the OS process id. The process leads its own process group.
	PID int

	// LogPath receives the process's stdout and stderr.
	LogPath string

	// StartedAt is the process creation time reported by the OS.
	StartedAt time.Time
}

// Target identifies the process a StopController terminates.
type Target struct {
	// Name is used in error messages.
	Name      string
	PID       int
	StartedAt time.Time
}
