package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/javanstorm/vmctl/internal/config"
	"github.com/javanstorm/vmctl/internal/vm"
	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

// openStore opens the configured machine record backend.
func (a *app) openStore() (vm.Store, error) {
	switch a.cfg.Store.Backend {
	case config.BackendBadger:
		s, err := vm.NewBadgerStore(a.cfg.BadgerDir())
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return s, nil
	default:
		s, err := vm.NewRegistry(a.cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open registry: %w", err)
		}
		return s, nil
	}
}

// newManager wires a lifecycle manager from the configuration. Extra
// options are applied last.
func (a *app) newManager(store vm.Store, console hypervisor.Console, opts ...vm.Option) (*vm.Manager, error) {
	kvm, err := hypervisor.ResolveKVM(a.cfg.Hypervisor.KVM)
	if err != nil {
		return nil, err
	}

	mcfg := vm.ManagerConfig{
		Binary:       a.cfg.Hypervisor.Binary,
		EnableKVM:    kvm,
		FirmwareArgs: hypervisor.FirmwareArgs(a.cfg.Hypervisor.Firmware),
		Console:      console,
		LogsDir:      a.cfg.LogsDir(),
		Defaults: vm.Defaults{
			CPU:         a.cfg.Defaults.CPU,
			CPUs:        a.cfg.Defaults.CPUs,
			Memory:      a.cfg.Defaults.Memory,
			DriveFormat: a.cfg.Defaults.DriveFormat,
			DriveSize:   a.cfg.Defaults.DriveSize,
		},
	}

	a.logger.Debug("manager configured",
		zap.String("binary", mcfg.Binary),
		zap.Bool("kvm", mcfg.EnableKVM),
		zap.String("console", string(console)),
		zap.String("store", a.cfg.Store.Backend),
	)

	base := []vm.Option{
		vm.WithLogger(a.logger),
		vm.WithLauncher(hypervisor.NewSupervisor(hypervisor.WithSupervisorLogger(a.logger))),
		vm.WithTerminator(hypervisor.NewStopController(
			hypervisor.WithGracePeriod(a.cfg.Stop.GracePeriod),
			hypervisor.WithKillWait(a.cfg.Stop.KillWait),
			hypervisor.WithStopLogger(a.logger),
		)),
		vm.WithImager(hypervisor.NewQemuImg(a.cfg.Hypervisor.ImgBinary)),
	}
	return vm.NewManager(store, mcfg, append(base, opts...)...), nil
}

// withManager runs fn against a manager over a freshly opened store. One-shot
// commands exit once fn returns, so a pty console would hang up the guest;
// they always detach stdin.
func (a *app) withManager(fn func(*vm.Manager) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if hypervisor.Console(a.cfg.Hypervisor.Console) == hypervisor.ConsolePTY {
		a.logger.Debug("pty console is only kept by vmctl serve, using none")
	}
	mgr, err := a.newManager(store, hypervisor.ConsoleNone)
	if err != nil {
		return err
	}
	return fn(mgr)
}
