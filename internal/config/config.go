package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config holds all vmctl configuration.
type Config struct {
	// DataDir holds machine records, logs and the badger store.
	DataDir string `mapstructure:"data_dir"`

	Log        LogConfig        `mapstructure:"log"`
	Hypervisor HypervisorConfig `mapstructure:"hypervisor"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Stop       StopConfig       `mapstructure:"stop"`
	Store      StoreConfig      `mapstructure:"store"`
	API        APIConfig        `mapstructure:"api"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Trace      TraceConfig      `mapstructure:"trace"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format"`
}

// HypervisorConfig describes how the hypervisor is invoked.
type HypervisorConfig struct {
	Binary    string `mapstructure:"binary"`
	ImgBinary string `mapstructure:"img_binary"`
	// KVM is "auto", "on" or "off".
	KVM string `mapstructure:"kvm"`
	// Firmware is an optional firmware image. Missing files are ignored.
	Firmware string `mapstructure:"firmware"`
	// Console is "none" or "pty".
	Console string `mapstructure:"console"`
}

// DefaultsConfig are the parameters a new machine starts from.
type DefaultsConfig struct {
	CPU         string `mapstructure:"cpu"`
	CPUs        int    `mapstructure:"cpus"`
	Memory      string `mapstructure:"memory"`
	DriveFormat string `mapstructure:"drive_format"`
	DriveSize   string `mapstructure:"drive_size"`
}

// StopConfig tunes the stop escalation.
type StopConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	KillWait    time.Duration `mapstructure:"kill_wait"`
}

// StoreConfig selects the machine record backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	Listen string `mapstructure:"listen"`
	// AccessLog enables combined-format access logging to stderr.
	AccessLog bool `mapstructure:"access_log"`
}

// NATSConfig configures lifecycle event publishing. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// TraceConfig enables span export to stdout.
type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		// Fallback if we can't determine home directory
		paths = &Paths{DataDir: "/tmp/vmctl"}
	}

	return &Config{
		DataDir: paths.DataDir,
		Log:     LogConfig{Level: "info", Format: "console"},
		Hypervisor: HypervisorConfig{
			Binary:    hypervisor.DefaultBinary,
			ImgBinary: hypervisor.DefaultImgBinary,
			KVM:       "auto",
			Console:   string(hypervisor.ConsoleNone),
		},
		Defaults: DefaultsConfig{
			CPU:         hypervisor.DefaultCPU,
			CPUs:        hypervisor.DefaultCPUs,
			Memory:      hypervisor.DefaultMemory,
			DriveFormat: hypervisor.DefaultDriveFormat,
			DriveSize:   hypervisor.DefaultDriveSize,
		},
		Stop: StopConfig{
			GracePeriod: hypervisor.DefaultGracePeriod,
			KillWait:    hypervisor.DefaultKillWait,
		},
		Store: StoreConfig{Backend: BackendFile},
		API:   APIConfig{Listen: ":8890", AccessLog: true},
		NATS:  NATSConfig{Subject: "machines.events"},
	}
}

// New returns a viper instance with every key defaulted and environment
// lookup enabled: VMCTL_DATA_DIR, VMCTL_LOG_LEVEL, VMCTL_NATS_URL, etc.
func New() *viper.Viper {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("hypervisor.binary", d.Hypervisor.Binary)
	v.SetDefault("hypervisor.img_binary", d.Hypervisor.ImgBinary)
	v.SetDefault("hypervisor.kvm", d.Hypervisor.KVM)
	v.SetDefault("hypervisor.firmware", d.Hypervisor.Firmware)
	v.SetDefault("hypervisor.console", d.Hypervisor.Console)
	v.SetDefault("defaults.cpu", d.Defaults.CPU)
	v.SetDefault("defaults.cpus", d.Defaults.CPUs)
	v.SetDefault("defaults.memory", d.Defaults.Memory)
	v.SetDefault("defaults.drive_format", d.Defaults.DriveFormat)
	v.SetDefault("defaults.drive_size", d.Defaults.DriveSize)
	v.SetDefault("stop.grace_period", d.Stop.GracePeriod)
	v.SetDefault("stop.kill_wait", d.Stop.KillWait)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.access_log", d.API.AccessLog)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
	v.SetDefault("trace.enabled", d.Trace.Enabled)

	v.SetEnvPrefix("VMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration into a Config. An explicit file must exist;
// otherwise config.yaml is looked up in the data and config directories
// and is optional.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ExpandHome(v.GetString("data_dir")))
		if paths, err := GetPaths(); err == nil {
			v.AddConfigPath(paths.ConfigDir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.DataDir = ExpandHome(cfg.DataDir)
	cfg.Hypervisor.Firmware = ExpandHome(cfg.Hypervisor.Firmware)
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file v read, if any.
func ConfigFileUsed(v *viper.Viper) string {
	if f := v.ConfigFileUsed(); f != "" {
		if _, err := os.Stat(f); err == nil {
			return f
		}
	}
	return ""
}
