package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// ValidateConfig checks configuration against itself and the platform.
// Returns a list of validation errors/warnings.
func ValidateConfig(cfg *Config) []ValidationError {
	var errs []ValidationError
	fatal := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Fatal: true})
	}

	if !hypervisor.SupportedPlatform() {
		fatal("hypervisor", "process supervision is not supported on this platform")
	}
	if cfg.DataDir == "" {
		fatal("data_dir", "must not be empty")
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		fatal("log.level", "unknown level %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		fatal("log.format", "must be 'console' or 'json', got %q", cfg.Log.Format)
	}
	if cfg.Hypervisor.Binary == "" {
		fatal("hypervisor.binary", "must not be empty")
	}

	switch cfg.Hypervisor.KVM {
	case "", "auto", "off":
	case "on":
		if !hypervisor.KVMAvailable() {
			fatal("hypervisor.kvm", "KVM requested but /dev/kvm is not accessible")
		}
	default:
		fatal("hypervisor.kvm", "must be 'auto', 'on' or 'off', got %q", cfg.Hypervisor.KVM)
	}

	if cfg.Hypervisor.Firmware != "" && hypervisor.FirmwareArgs(cfg.Hypervisor.Firmware) == nil {
		errs = append(errs, ValidationError{
			Field:   "hypervisor.firmware",
			Message: fmt.Sprintf("firmware %s not found, machines boot without it", cfg.Hypervisor.Firmware),
		})
	}

	switch hypervisor.Console(cfg.Hypervisor.Console) {
	case "", hypervisor.ConsoleNone, hypervisor.ConsolePTY:
	default:
		fatal("hypervisor.console", "must be 'none' or 'pty', got %q", cfg.Hypervisor.Console)
	}

	if cfg.Defaults.CPUs < 0 {
		fatal("defaults.cpus", "must be a positive integer")
	}
	if cfg.Defaults.Memory != "" && !hypervisor.ValidMemory(cfg.Defaults.Memory) {
		fatal("defaults.memory", "must match <digits>M or <digits>G, got %q", cfg.Defaults.Memory)
	}
	if cfg.Defaults.DriveSize != "" && !hypervisor.ValidDriveSize(cfg.Defaults.DriveSize) {
		fatal("defaults.drive_size", "must match <digits>[K|M|G|T], got %q", cfg.Defaults.DriveSize)
	}

	if cfg.Stop.GracePeriod <= 0 {
		fatal("stop.grace_period", "must be positive")
	}
	if cfg.Stop.KillWait <= 0 {
		fatal("stop.kill_wait", "must be positive")
	}

	if cfg.Store.Backend != BackendFile && cfg.Store.Backend != BackendBadger {
		fatal("store.backend", "must be %q or %q, got %q", BackendFile, BackendBadger, cfg.Store.Backend)
	}
	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		fatal("nats.subject", "must not be empty when nats.url is set")
	}

	return errs
}

// HasFatal reports whether any of errs prevents running.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errs {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
