package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/gammacoder/ceph/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate tracker tunables",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigDefaultsCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <file>",
		Short:         "Check a tunables file against the schema",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.output(cmd)
			path := args[0]

			cfg, err := config.Load(path)
			switch {
			case config.IsLoadError(err, config.ErrCodeRead):
				return WrapExitError(ExitCommandError, "failed to read config", err)
			case err != nil:
				var le *config.LoadError
				if errors.As(err, &le) {
					if fmtErr := out.Error(le.Code, le.Message, map[string]string{"path": le.Path}); fmtErr != nil {
						return fmtErr
					}
				}
				return WrapExitError(ExitFailure, "config rejected", err)
			}

			out.VerboseLog("Loaded %s", path)
			return out.Success("Config valid: "+path, configView(cfg))
		},
	}
}

func newConfigDefaultsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "defaults",
		Short:         "Print the default tunables",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.output(cmd)
			cfg := config.Default()
			if out.Format != "text" {
				return out.Success("", configView(cfg))
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to encode defaults", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// configView is the structured form of cfg with durations as strings.
func configView(cfg config.Config) map[string]any {
	return map[string]any{
		"history_size":     cfg.HistorySize,
		"history_duration": time.Duration(cfg.HistoryDuration).String(),
		"complaint_time":   time.Duration(cfg.ComplaintTime).String(),
		"log_threshold":    cfg.LogThreshold,
	}
}
