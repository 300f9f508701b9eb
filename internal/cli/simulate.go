package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gammacoder/ceph/internal/archive"
	"github.com/gammacoder/ceph/internal/config"
	"github.com/gammacoder/ceph/internal/format"
	"github.com/gammacoder/ceph/internal/harness"
	"github.com/gammacoder/ceph/internal/optracker"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	ScenarioPath string
	ConfigPath   string
	ArchivePath  string
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a scenario against the op tracker",
		Long: `Replay a scenario file against an op tracker driven by a simulated clock.

Each step arrives, marks or releases ops, runs a slow-request check or swaps
tunables. The run prints every check's warning lines and fails when any
expectation or assertion in the scenario does not hold.`,
		Example: `  optrack simulate --scenario testdata/scenarios/slow_request_backoff.yaml
  optrack simulate --scenario s.yaml --config tunables.yaml --archive dumps.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ScenarioPath, "scenario", "", "path to the scenario file (required)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "tunables file replacing the scenario's config block")
	cmd.Flags().StringVar(&opts.ArchivePath, "archive", "", "SQLite database that receives warnings and final dumps")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions) error {
	out := opts.output(cmd)

	scenario, err := harness.LoadScenario(opts.ScenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	runOpts := harness.Options{
		Logger:  opts.logger(out.GetErrWriter()),
		Metrics: optracker.NewMetrics(prometheus.NewRegistry()),
	}
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		runOpts.Config = &cfg
	}
	if opts.ArchivePath != "" {
		store, err := archive.Open(opts.ArchivePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer store.Close()
		runOpts.Archive = store
	}

	out.VerboseLog("Running scenario %q (%d steps)", scenario.Name, len(scenario.Steps))
	result, err := harness.RunWithOptions(context.Background(), scenario, runOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution error", err)
	}

	if err := writeResult(out, scenario, result); err != nil {
		return WrapExitError(ExitCommandError, "failed to write result", err)
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed", scenario.Name))
	}
	return nil
}

func writeResult(out *OutputFormatter, scenario *harness.Scenario, result *harness.Result) error {
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

	w := out.Writer
	for _, c := range result.Checks {
		if len(c.Lines) == 0 {
			fmt.Fprintf(w, "[%ss] no slow requests\n", optracker.FormatSeconds(c.At))
			continue
		}
		for _, line := range c.Lines {
			fmt.Fprintf(w, "[%ss] %s\n", optracker.FormatSeconds(c.At), line)
		}
	}

	if result.Pass {
		_, err := fmt.Fprintf(w, "PASS: %s (%d checks, %d warnings)\n",
			scenario.Name, len(result.Checks), result.Warnings())
		return err
	}
	fmt.Fprintf(w, "FAIL: %s\n", scenario.Name)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}
