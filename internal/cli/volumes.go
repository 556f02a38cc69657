package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmctl/internal/vm"
)

func newVolumesCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "volumes [volume-id|machine]",
		Aliases: []string{"vol"},
		Short:   "List drive images used by machines",
		Long: `List the drive images referenced by machine records, with their size on
disk. Given an argument, show the volume with that id or the drive of that
machine.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(mgr *vm.Manager) error {
				if len(args) == 1 {
					v, err := mgr.GetVolume(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if asJSON {
						return printJSON(cmd.OutOrStdout(), v)
					}
					return printVolumes(cmd.OutOrStdout(), []vm.Volume{v})
				}

				vols, err := mgr.ListVolumes(cmd.Context())
				if err != nil {
					return fmt.Errorf("list volumes: %w", err)
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), vols)
				}
				if len(vols) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No volumes. Give a machine one with: vmctl create --drive <path>")
					return nil
				}
				return printVolumes(cmd.OutOrStdout(), vols)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
