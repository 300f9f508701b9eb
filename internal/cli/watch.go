package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gammacoder/ceph/internal/archive"
	"github.com/gammacoder/ceph/internal/config"
	"github.com/gammacoder/ceph/internal/format"
	"github.com/gammacoder/ceph/internal/harness"
	"github.com/gammacoder/ceph/internal/optracker"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ScenarioPath string
	ConfigPath   string
	ArchivePath  string
	Interval     time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Replay a scenario in real time under the slow-request watch loop",
		Long: `Replay a scenario file against an op tracker on the system clock.

Steps run once their offset has elapsed. A background loop checks for slow
requests every --interval and prints each warning as it is raised; the
scenario's own check steps and assertions are ignored.`,
		Example: `  optrack watch --scenario stall.yaml --interval 1s
  optrack watch --scenario stall.yaml --interval 500ms --archive dumps.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ScenarioPath, "scenario", "", "path to the scenario file (required)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "tunables file replacing the scenario's config block")
	cmd.Flags().StringVar(&opts.ArchivePath, "archive", "", "SQLite database that receives warnings and final dumps")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "slow-request check period")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	out := opts.output(cmd)
	if opts.Interval <= 0 {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("watch interval must be positive, got %s", opts.Interval))
	}

	scenario, err := harness.LoadScenario(opts.ScenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	liveOpts := harness.LiveOptions{
		Options: harness.Options{
			Logger:  opts.logger(out.GetErrWriter()),
			Metrics: optracker.NewMetrics(prometheus.NewRegistry()),
		},
		Interval: opts.Interval,
	}
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		liveOpts.Config = &cfg
	}
	if opts.ArchivePath != "" {
		store, err := archive.Open(opts.ArchivePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer store.Close()
		liveOpts.Archive = store
	}
	if out.Format == "text" {
		liveOpts.Report = func(rec harness.CheckRecord) {
			at := optracker.FormatSeconds(rec.At.Round(time.Millisecond))
			for _, line := range rec.Lines {
				fmt.Fprintf(out.Writer, "[%ss] %s\n", at, line)
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out.VerboseLog("Watching scenario %q every %s", scenario.Name, opts.Interval)
	result, err := harness.RunLive(ctx, scenario, liveOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "watch error", err)
	}

	switch out.Format {
	case "json":
		f := format.NewJSONFormatter()
		result.Write(f)
		return f.Flush(out.Writer)
	case "yaml":
		f := format.NewYAMLFormatter()
		result.Write(f)
		return f.Flush(out.Writer)
	}
	_, err = fmt.Fprintf(out.Writer, "DONE: %s (%d warnings, %d in flight)\n",
		scenario.Name, result.Warnings(), result.Tracker().InFlight())
	return err
}

