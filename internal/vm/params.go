package vm

import (
	"errors"
	"strings"

	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// Params are the caller-supplied machine parameters for create, start and
// restart. A nil field is "not overridden": the stored record (or the
// configured default) is kept.
type Params struct {
	Name        *string  `json:"name,omitempty"`
	CPU         *string  `json:"cpu,omitempty"`
	CPUs        *int     `json:"cpus,omitempty"`
	Memory      *string  `json:"memory,omitempty"`
	PortForward []string `json:"portForward,omitempty"`
	Drive       *string  `json:"drive,omitempty"`
	DriveFormat *string  `json:"driveFormat,omitempty"`
	DriveSize   *string  `json:"driveSize,omitempty"`
	BootSource  *string  `json:"bootSource,omitempty"`
}

// Defaults are the values a new machine starts from.
type Defaults struct {
	CPU         string
	CPUs        int
	Memory      string
	DriveFormat string
	DriveSize   string
}

// withFallbacks fills empty fields from the hypervisor defaults.
func (d Defaults) withFallbacks() Defaults {
	if d.CPU == "" {
		d.CPU = hypervisor.DefaultCPU
	}
	if d.CPUs == 0 {
		d.CPUs = hypervisor.DefaultCPUs
	}
	if d.Memory == "" {
		d.Memory = hypervisor.DefaultMemory
	}
	if d.DriveFormat == "" {
		d.DriveFormat = hypervisor.DefaultDriveFormat
	}
	if d.DriveSize == "" {
		d.DriveSize = hypervisor.DefaultDriveSize
	}
	return d
}

// Validate checks every supplied field. It never looks at the registry.
func (p Params) Validate() error {
	if p.Name != nil && !ValidID(*p.Name) {
		return &ValidationError{Field: "name", Message: "must be 1-128 letters, digits, '.', '_' or '-' and start with a letter or digit"}
	}
	if p.CPU != nil && strings.TrimSpace(*p.CPU) == "" {
		return &ValidationError{Field: "cpu", Message: "must not be empty"}
	}
	if p.CPUs != nil && *p.CPUs < 1 {
		return &ValidationError{Field: "cpus", Message: "must be a positive integer", Err: hypervisor.ErrInvalidCPUCount}
	}
	if p.Memory != nil && !hypervisor.ValidMemory(*p.Memory) {
		return &ValidationError{Field: "memory", Message: "must match ^\\d+(M|G)$", Err: hypervisor.ErrInvalidMemory}
	}
	if _, err := hypervisor.ParsePortForwards(p.PortForward); err != nil {
		return &ValidationError{Field: "portForward", Message: err.Error(), Err: err}
	}
	if p.DriveFormat != nil && strings.TrimSpace(*p.DriveFormat) == "" {
		return &ValidationError{Field: "driveFormat", Message: "must not be empty"}
	}
	if p.DriveSize != nil && !hypervisor.ValidDriveSize(*p.DriveSize) {
		return &ValidationError{Field: "driveSize", Message: "must match ^\\d+(K|M|G|T)?$", Err: hypervisor.ErrInvalidDriveSize}
	}
	return nil
}

// hasMedia reports whether p names something to boot from.
func (p Params) hasMedia() bool {
	return (p.Drive != nil && *p.Drive != "") || (p.BootSource != nil && *p.BootSource != "")
}

// apply returns a copy of m with every supplied field of p overriding the
// stored value.
func (p Params) apply(m Machine) Machine {
	m = m.Clone()
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.CPU != nil {
		m.CPU = *p.CPU
	}
	if p.CPUs != nil {
		m.CPUs = *p.CPUs
	}
	if p.Memory != nil {
		m.Memory = *p.Memory
	}
	if p.PortForward != nil {
		m.PortForward = append([]string{}, p.PortForward...)
	}
	if p.Drive != nil {
		m.Drive = *p.Drive
	}
	if p.DriveFormat != nil {
		m.DriveFormat = *p.DriveFormat
	}
	if p.DriveSize != nil {
		m.DriveSize = *p.DriveSize
	}
	if p.BootSource != nil {
		m.BootSource = *p.BootSource
	}
	return m
}

// launchConfig converts a machine record into a hypervisor launch config.
func launchConfig(m Machine) (hypervisor.LaunchConfig, error) {
	fwds, err := hypervisor.ParsePortForwards(m.PortForward)
	if err != nil {
		return hypervisor.LaunchConfig{}, &ValidationError{Field: "portForward", Message: err.Error(), Err: err}
	}
	return hypervisor.LaunchConfig{
		CPU:          m.CPU,
		CPUs:         m.CPUs,
		Memory:       m.Memory,
		Drive:        m.Drive,
		DriveFormat:  m.DriveFormat,
		DriveSize:    m.DriveSize,
		BootSource:   m.BootSource,
		PortForwards: fwds,
	}, nil
}

// asValidationError converts hypervisor configuration errors into
// ValidationErrors. Other errors pass through untouched.
func asValidationError(err error) error {
	fields := []struct {
		sentinel error
		field    string
	}{
		{hypervisor.ErrInvalidCPUCount, "cpus"},
		{hypervisor.ErrInvalidMemory, "memory"},
		{hypervisor.ErrNoBootMedia, "drive"},
		{hypervisor.ErrInvalidDriveSize, "driveSize"},
		{hypervisor.ErrInvalidPortForward, "portForward"},
		{hypervisor.ErrPortOutOfRange, "portForward"},
	}
	for _, f := range fields {
		if errors.Is(err, f.sentinel) {
			return &ValidationError{Field: f.field, Message: err.Error(), Err: err}
		}
	}
	return err
}

// Ptr returns a pointer to v. It keeps Params literals short.
func Ptr[T any](v T) *T {
	return &v
}
