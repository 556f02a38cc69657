package hypervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Imager creates drive images that do not exist yet.
type Imager interface {
	EnsureDrive(ctx context.Context, path, format, size string) error
}

// BuildArgs assembles the full argument vector (argv[0] is the binary) for
// cfg. It is deterministic and has no side effects.
func BuildArgs(cfg LaunchConfig) ([]string, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	args := []string{cfg.Binary}
	if cfg.EnableKVM {
		args = append(args, "-enable-kvm")
	}
	args = append(args,
		"-cpu", cfg.CPU,
		"-m", cfg.Memory,
		"-smp", strconv.Itoa(cfg.CPUs),
	)
	if cfg.BootSource != "" {
		args = append(args, "-cdrom", cfg.BootSource)
	}
	if cfg.Drive != "" {
		args = append(args, "-drive", fmt.Sprintf("file=%s,format=%s,if=virtio", cfg.Drive, cfg.DriveFormat))
	}
	args = append(args,
		"-netdev", netdevSpec(cfg.PortForwards),
		"-device", "e1000,netdev=net0",
		"-nographic",
		"-serial", "stdio",
		"-monitor", "none",
	)
	args = append(args, cfg.FirmwareArgs...)

	return args, nil
}

// Prepare ensures the drive backing file exists, then builds the argument
// vector. Drive creation failures come back as *DriveError so callers can
// tell them apart from configuration errors.
func Prepare(ctx context.Context, img Imager, cfg LaunchConfig) ([]string, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Drive != "" && img != nil {
		if err := img.EnsureDrive(ctx, cfg.Drive, cfg.DriveFormat, cfg.DriveSize); err != nil {
			return nil, err
		}
	}

	return BuildArgs(cfg)
}

// netdevSpec joins all forwards into a single user-networking spec.
func netdevSpec(fwds []PortForward) string {
	parts := []string{"user", "id=net0"}
	for _, pf := range fwds {
		parts = append(parts, pf.hostfwd())
	}
	return strings.Join(parts, ",")
}
