package api

import (
	"errors"
	"net/http"

	"github.com/javanstorm/vmctl/internal/vm"
	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// Error codes carried in ErrorMessage.Code.
const (
	CodeNotFound       = "VM_NOT_FOUND"
	CodeVolumeNotFound = "VOLUME_NOT_FOUND"
	CodeAlreadyRunning = "VM_ALREADY_RUNNING"
	CodeValidation     = "VALIDATION_ERROR"
	CodeParseBody      = "PARSE_BODY_ERROR"
	CodeCommand        = "COMMAND_ERROR"
	CodeDrive          = "DRIVE_ERROR"
	CodeStopCommand    = "STOP_COMMAND_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrorMessage is the JSON body of every failed request.
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParseBodyError reports a request body that is not valid JSON for the
// endpoint.
type ParseBodyError struct {
	Err error
}

func (e *ParseBodyError) Error() string {
	return "parse request body: " + e.Err.Error()
}

func (e *ParseBodyError) Unwrap() error {
	return e.Err
}

// Classify maps an orchestrator error to an HTTP status and error code.
// It is the single place errors meet the presentation layer.
func Classify(err error) (int, string) {
	var (
		parseErr *ParseBodyError
		cmdErr   *hypervisor.CommandError
		driveErr *hypervisor.DriveError
		stopErr  *hypervisor.StopCommandError
	)
	switch {
	case errors.Is(err, vm.ErrVMNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, vm.ErrVolumeNotFound):
		return http.StatusNotFound, CodeVolumeNotFound
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, CodeParseBody
	case errors.Is(err, vm.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, vm.ErrVMAlreadyRunning):
		return http.StatusBadRequest, CodeAlreadyRunning
	case errors.As(err, &stopErr):
		return http.StatusInternalServerError, CodeStopCommand
	case errors.As(err, &driveErr):
		return http.StatusInternalServerError, CodeDrive
	case errors.As(err, &cmdErr):
		return http.StatusInternalServerError, CodeCommand
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
