package hypervisor

import "runtime"

// SupportedPlatform returns true if processes can be supervised on the
// current platform.
func SupportedPlatform() bool {
	switch runtime.GOOS {
	case "darwin", "linux":
		return true
	default:
		return false
	}
}
