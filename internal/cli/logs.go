package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmctl/internal/vm"
	"github.com/javanstorm/vmctl/pkg/hypervisor"
)

func newLogsCmd(a *app) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <id|name>",
		Short: "Print a machine's hypervisor log",
		Long:  `Print the log of the machine's most recent run. With --follow, keep printing until interrupted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			err := a.withManager(func(mgr *vm.Manager) error {
				var err error
				path, err = mgr.LogPath(cmd.Context(), args[0])
				return err
			})
			if errors.Is(err, hypervisor.ErrNoLogsFound) {
				return fmt.Errorf("machine %s has never been started", args[0])
			}
			if err != nil {
				return err
			}

			if follow {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return hypervisor.Follow(ctx, path, cmd.OutOrStdout())
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(cmd.OutOrStdout(), f)
			return err
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing appended output")
	return cmd
}
