package hypervisor

import (
	"regexp"
)

// Defaults applied by the command builder when a LaunchConfig field is empty.
const (
	DefaultBinary      = "qemu-system-x86_64"
	DefaultImgBinary   = "qemu-img"
	DefaultCPU         = "host"
	DefaultCPUs        = 2
	DefaultMemory      = "2G"
	DefaultDriveFormat = "raw"
	DefaultDriveSize   = "20G"
)

var (
	memoryPattern    = regexp.MustCompile(`^\d+(M|G)$`)
	driveSizePattern = regexp.MustCompile(`^\d+(K|M|G|T)?$`)
)

// Console selects what the hypervisor's standard input is bound to.
type Console string

const (
	// ConsoleNone binds stdin to /dev/null.
	ConsoleNone Console = "none"
	// ConsolePTY binds stdin to the slave side of a dedicated pseudo-terminal.
	ConsolePTY Console = "pty"
)

// LaunchConfig holds the parameters of a single hypervisor invocation.
type LaunchConfig struct {
	// Binary is the hypervisor executable (argv[0]).
	Binary string

	// EnableKVM adds hardware acceleration.
	EnableKVM bool

	// CPU is the emulated CPU model. "host" passes the host CPU through.
	CPU string

	// CPUs is the number of virtual CPUs.
	CPUs int

	// Memory is the guest memory size, e.g. "512M" or "4G".
	Memory string

	// Drive is the path to the disk image (optional).
	Drive string

	// DriveFormat is the disk image format ("raw", "qcow2", ...).
	DriveFormat string

	// DriveSize is the size used when the drive has to be created.
	DriveSize string

	// BootSource is the path to an ISO attached as cdrom (optional).
	BootSource string

	// PortForwards are host-to-guest TCP forwards on the user-mode network.
	// Order is preserved in the generated arguments.
	PortForwards []PortForward

	// FirmwareArgs are appended verbatim. Nil when no firmware is configured.
	FirmwareArgs []string
}

// WithDefaults returns a copy of c with empty fields set to their defaults.
func (c LaunchConfig) WithDefaults() LaunchConfig {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.CPU == "" {
		c.CPU = DefaultCPU
	}
	if c.CPUs == 0 {
		c.CPUs = DefaultCPUs
	}
	if c.Memory == "" {
		c.Memory = DefaultMemory
	}
	if c.Drive != "" {
		if c.DriveFormat == "" {
			c.DriveFormat = DefaultDriveFormat
		}
		if c.DriveSize == "" {
			c.DriveSize = DefaultDriveSize
		}
	}
	return c
}

// Validate performs basic validation of the configuration.
func (c *LaunchConfig) Validate() error {
	if c.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if !ValidMemory(c.Memory) {
		return ErrInvalidMemory
	}
	if c.Drive == "" && c.BootSource == "" {
		return ErrNoBootMedia
	}
	if c.Drive != "" && !ValidDriveSize(c.DriveSize) {
		return ErrInvalidDriveSize
	}
	for _, pf := range c.PortForwards {
		if err := pf.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidMemory reports whether s is a memory size like "512M" or "2G".
func ValidMemory(s string) bool {
	return memoryPattern.MatchString(s)
}

// ValidDriveSize reports whether s is a size qemu-img understands and that
// fits in 64 bits.
func ValidDriveSize(s string) bool {
	_, err := parseSize(s)
	return err == nil
}
