// Package cli provides the command-line interface for vmctl.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/javanstorm/vmctl/internal/config"
)

// app carries what every command needs once the configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the vmctl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New(), logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "vmctl",
		Short: "vmctl - local virtual machine lifecycle manager",
		Long: `vmctl launches, tracks and stops QEMU virtual machines on this host.

Machine records live in the data directory and survive restarts of vmctl.
Every command runs the lifecycle manager in-process; "vmctl serve" exposes
the same operations over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that don't need it
			switch cmd.Name() {
			case "version", "completion", "help":
				return nil
			}
			return a.load(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: config.yaml in the data or config dir)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("data-dir", "", "data directory (default: ~/.vmctl)")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("data_dir", flags.Lookup("data-dir"))

	rootCmd.AddCommand(
		newListCmd(a),
		newInspectCmd(a),
		newCreateCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newRestartCmd(a),
		newRmCmd(a),
		newLogsCmd(a),
		newVolumesCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads and validates the configuration and builds the logger.
// Warnings go to w; fatal problems abort the command.
func (a *app) load(w io.Writer) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}

	problems := config.ValidateConfig(cfg)
	if len(problems) > 0 {
		fmt.Fprint(w, config.FormatValidationErrors(problems))
	}
	if config.HasFatal(problems) {
		return fmt.Errorf("invalid configuration")
	}

	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	if f := config.ConfigFileUsed(a.v); f != "" {
		logger.Debug("loaded config", zap.String("file", f))
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
