package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrVMNotFound is matched by every NotFoundError.
	ErrVMNotFound = errors.New("vm not found")

	// ErrVMAlreadyRunning is matched by every AlreadyRunningError.
	ErrVMAlreadyRunning = errors.New("vm already running")

	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("invalid machine parameters")
)

// NotFoundError reports an unknown machine id or name.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("VM %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrVMNotFound
}

// AlreadyRunningError reports a start (or delete) of a machine that has a
// live hypervisor process.
type AlreadyRunningError struct {
	ID  string
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("VM %s is already running (pid %d)", e.ID, e.PID)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrVMAlreadyRunning
}

// ValidationError reports malformed input. It is returned before any
// process or registry mutation.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrVolumeNotFound is matched by every VolumeNotFoundError.
var ErrVolumeNotFound = errors.New("volume not found")

// VolumeNotFoundError reports a volume id, or a machine without a drive.
type VolumeNotFoundError struct {
	ID string
}

func (e *VolumeNotFoundError) Error() string {
	return fmt.Sprintf("volume %s not found", e.ID)
}

func (e *VolumeNotFoundError) Is(target error) bool {
	return target == ErrVolumeNotFound
}
