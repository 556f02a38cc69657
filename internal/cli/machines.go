package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/javanstorm/vmctl/internal/vm"
)

// addParamFlags registers the machine parameter flags shared by create,
// start and restart.
func addParamFlags(fs *pflag.FlagSet) {
	fs.String("cpu", "", "CPU model passed to -cpu (default from config)")
	fs.Int("cpus", 0, "number of virtual CPUs")
	fs.StringP("memory", "m", "", "memory size, e.g. 2G or 512M")
	fs.StringSliceP("port-forward", "p", nil, "host:guest TCP forward (repeatable)")
	fs.String("drive", "", "path of the disk image (created if missing)")
	fs.String("drive-format", "", "disk image format, e.g. raw or qcow2")
	fs.String("drive-size", "", "size of a newly created disk image, e.g. 20G")
	fs.String("iso", "", "ISO image to boot from")
}

// paramsFromFlags returns Params with only the flags the user set. Unset
// flags keep the stored value.
func paramsFromFlags(fs *pflag.FlagSet) vm.Params {
	var p vm.Params
	str := func(name string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		return &v
	}

	p.Name = str("name")
	p.CPU = str("cpu")
	p.Memory = str("memory")
	p.Drive = str("drive")
	p.DriveFormat = str("drive-format")
	p.DriveSize = str("drive-size")
	p.BootSource = str("iso")
	if fs.Changed("cpus") {
		n, _ := fs.GetInt("cpus")
		p.CPUs = &n
	}
	if fs.Changed("port-forward") {
		p.PortForward, _ = fs.GetStringSlice("port-forward")
		if p.PortForward == nil {
			p.PortForward = []string{}
		}
	}
	return p
}

func newListCmd(a *app) *cobra.Command {
	var all, asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "ps"},
		Short:   "List machines",
		Long:    `List running machines. With --all, stopped machines are listed too.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				machines, err := mgr.ListInstances(cmd.Context(), all)
				if err != nil {
					return fmt.Errorf("list machines: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), machines)
				}
				if len(machines) == 0 {
					if all {
						fmt.Fprintln(cmd.OutOrStdout(), "No machines found. Create one with: vmctl create --iso <path>")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "No running machines. Use --all to include stopped ones.")
					}
					return nil
				}
				return printMachines(cmd.OutOrStdout(), machines)
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include stopped machines")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <id|name>",
		Short: "Show machine details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				m, err := mgr.GetInstanceState(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), m)
				}
				printMachine(cmd.OutOrStdout(), m)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new machine without starting it",
		Long: `Register a new machine. Parameters left out come from the configured
defaults. A drive or an ISO is required before the machine can start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				m, err := mgr.CreateInstance(cmd.Context(), paramsFromFlags(cmd.Flags()))
				if err != nil {
					return fmt.Errorf("create machine: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created machine '%s' (%s)\n", m.Name, m.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "To start it: vmctl start %s\n", m.Name)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "machine name (default: generated)")
	addParamFlags(cmd.Flags())
	return cmd
}

func newStartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id|name>",
		Short: "Start a machine",
		Long: `Start a stopped machine. Flags override the stored parameters and are
saved. Starting an unknown id registers it when a drive or ISO is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				m, err := mgr.StartInstance(cmd.Context(), args[0], paramsFromFlags(cmd.Flags()))
				if err != nil {
					return fmt.Errorf("start machine: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started machine '%s' (pid %d)\n", m.Name, m.ProcessID())
				fmt.Fprintf(cmd.OutOrStdout(), "  Log: %s\n", m.LogFile)
				return nil
			})
		},
	}
	addParamFlags(cmd.Flags())
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id|name>",
		Short: "Stop a machine",
		Long: `Stop a running machine: SIGTERM to its process group, then SIGKILL if
it is still alive after the grace period. Stopping a stopped machine is a
no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				m, err := mgr.StopInstance(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("stop machine: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Machine '%s' stopped\n", m.Name)
				return nil
			})
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart <id|name>",
		Short: "Stop and start a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				m, err := mgr.RestartInstance(cmd.Context(), args[0], paramsFromFlags(cmd.Flags()))
				if err != nil {
					return fmt.Errorf("restart machine: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restarted machine '%s' (pid %d)\n", m.Name, m.ProcessID())
				return nil
			})
		},
	}
	addParamFlags(cmd.Flags())
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id|name>",
		Aliases: []string{"delete"},
		Short:   "Delete a stopped machine's record",
		Long:    `Delete a machine's record. Its drive and logs are left on disk.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				if err := mgr.DeleteInstance(cmd.Context(), args[0]); err != nil {
					return fmt.Errorf("delete machine: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted machine '%s'\n", args[0])
				return nil
			})
		},
	}
}
