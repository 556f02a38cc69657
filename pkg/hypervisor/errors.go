package hypervisor

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors
var (
	ErrInvalidCPUCount    = errors.New("hypervisor: CPU count must be at least 1")
	ErrInvalidMemory      = errors.New("hypervisor: memory must match <digits>M or <digits>G")
	ErrNoBootMedia        = errors.New("hypervisor: a boot source or a drive is required")
	ErrInvalidDriveSize   = errors.New("hypervisor: drive size must match <digits>[K|M|G|T]")
	ErrInvalidPortForward = errors.New("hypervisor: port forward must match <host>:<guest>")
	ErrPortOutOfRange     = errors.New("hypervisor: ports must be between 1 and 65535")
	ErrInvalidKVMMode     = errors.New("hypervisor: kvm mode must be 'auto', 'on' or 'off'")
)

// Runtime errors
var (
	ErrEmptyArgv   = errors.New("hypervisor: empty argument vector")
	ErrStillAlive  = errors.New("hypervisor: process still alive after SIGKILL")
	ErrKVMMissing  = errors.New("hypervisor: /dev/kvm not accessible")
	ErrNoLogsFound = errors.New("hypervisor: no log files")

	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
)

// CommandError reports a hypervisor process that could not be spawned.
type CommandError struct {
	// Argv is the command that failed.
	Argv []string
	// Err is the underlying OS error.
	Err error
}

func (e *CommandError) Error() string {
	name := "<none>"
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	return fmt.Sprintf("hypervisor: spawn %s: %v", name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DriveError reports a failure to create a drive image.
type DriveError struct {
	Path   string
	Output string
	Err    error
}

func (e *DriveError) Error() string {
	msg := fmt.Sprintf("hypervisor: ensure drive %q: %v", e.Path, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *DriveError) Unwrap() error {
	return e.Err
}

// StopCommandError reports that termination of a machine's process could not
// be confirmed.
type StopCommandError struct {
	// Name is the machine name.
	Name string
	PID  int
	Err  error
}

func (e *StopCommandError) Error() string {
	return fmt.Sprintf("hypervisor: failed to stop VM %s (pid %d): %v", e.Name, e.PID, e.Err)
}

func (e *StopCommandError) Unwrap() error {
	return e.Err
}
