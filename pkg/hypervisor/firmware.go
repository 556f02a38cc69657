package hypervisor

import (
	"os"
)

// FirmwareArgs returns the arguments that load the firmware image at path.
// Firmware is optional: an empty path or a missing file yields no arguments.
func FirmwareArgs(path string) []string {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return []string{"-bios", path}
}

// KVMAvailable reports whether /dev/kvm exists and is accessible.
func KVMAvailable() bool {
	f, err := os.OpenFile(kvmDevice, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

var kvmDevice = "/dev/kvm"

// ResolveKVM turns a configured mode ("auto", "on", "off") into a decision.
func ResolveKVM(mode string) (bool, error) {
	switch mode {
	case "", "auto":
		return KVMAvailable(), nil
	case "on":
		if !KVMAvailable() {
			return false, ErrKVMMissing
		}
		return true, nil
	case "off":
		return false, nil
	default:
		return false, ErrInvalidKVMMode
	}
}
