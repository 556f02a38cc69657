// Package config provides configuration management for vmctl.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Paths holds platform-specific directory paths for vmctl.
type Paths struct {
	// ConfigDir is the directory searched for config.yaml after DataDir.
	// macOS: ~/Library/Application Support/vmctl
	// Linux: ~/.config/vmctl (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir holds machine records, logs and drives.
	// All platforms: ~/.vmctl
	DataDir string
}

// GetPaths returns platform-aware paths for vmctl.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{DataDir: filepath.Join(home, ".vmctl")}

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "vmctl")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "vmctl")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "vmctl")
		}
	}
	return p, nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// EnsureDirectories creates the data directory layout if it doesn't exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// LogsDir is the root of the per-machine hypervisor log directories.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// BadgerDir is where the badger store backend keeps its files.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "badger")
}
