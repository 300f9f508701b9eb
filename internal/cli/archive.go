package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gammacoder/ceph/internal/archive"
)

// ArchiveOptions holds flags shared by the archive subcommands.
type ArchiveOptions struct {
	*RootOptions
	DBPath string
	Limit  int
	Kind   string
	ID     int64
	Checks int
}

// NewArchiveCommand creates the archive command group.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ArchiveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect dumps and warnings archived by simulate",
	}
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the archive database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newArchiveListCommand(opts))
	cmd.AddCommand(newArchiveShowCommand(opts))
	cmd.AddCommand(newArchiveWarningsCommand(opts))
	return cmd
}

// openArchive opens an existing archive. Open would create a missing file,
// which for a read-only command only hides a mistyped path.
func (o *ArchiveOptions) openArchive() (*archive.Store, error) {
	if _, err := os.Stat(o.DBPath); err != nil {
		return nil, WrapExitError(ExitCommandError, "archive not found", err)
	}
	store, err := archive.Open(o.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	return store, nil
}

func newArchiveListCommand(opts *ArchiveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List archived dumps, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind archive.Kind
			if opts.Kind != "" {
				k, err := archive.ParseKind(opts.Kind)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --kind", err)
				}
				kind = k
			}

			store, err := opts.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			dumps, err := store.ListDumps(context.Background(), 0)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list dumps", err)
			}

			rows := make([]map[string]any, 0, len(dumps))
			for _, d := range dumps {
				if kind != "" && d.Kind != kind {
					continue
				}
				if opts.Limit > 0 && len(rows) == opts.Limit {
					break
				}
				rows = append(rows, map[string]any{
					"id":       d.ID,
					"kind":     string(d.Kind),
					"taken_at": d.TakenAt.Format(time.RFC3339Nano),
					"size":     d.Size,
				})
			}

			out := opts.output(cmd)
			if out.Format != "text" {
				return out.Success("", rows)
			}
			if len(rows) == 0 {
				return out.Success("No dumps archived", nil)
			}
			tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tTAKEN AT\tSIZE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", r["id"], r["kind"], r["taken_at"], r["size"])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of dumps to list (0 = all)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only list dumps of this kind (in_flight|history)")
	return cmd
}

func newArchiveShowCommand(opts *ArchiveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Print an archived dump document",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			dump, err := store.GetDump(context.Background(), opts.ID)
			if errors.Is(err, archive.ErrNotFound) {
				return WrapExitError(ExitCommandError, "no such dump", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read dump", err)
			}

			w := cmd.OutOrStdout()
			if opts.Format != "yaml" {
				_, err := w.Write(append(dump.Document, '\n'))
				return err
			}

			// Documents are canonical JSON, which yaml.v3 reads as flow
			// YAML; re-encoding through a Node keeps key order.
			var doc yaml.Node
			if err := yaml.Unmarshal(dump.Document, &doc); err != nil {
				return WrapExitError(ExitCommandError, "failed to decode dump", err)
			}
			clearStyle(&doc)
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(&doc); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().Int64Var(&opts.ID, "id", 0, "dump id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// clearStyle switches flow collections to block style.
func clearStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	for _, c := range n.Content {
		clearStyle(c)
	}
}

func newArchiveWarningsCommand(opts *ArchiveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "warnings",
		Short:         "Print archived slow-request warnings",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openArchive()
			if err != nil {
				return err
			}
			defer store.Close()

			warnings, err := store.ListWarnings(context.Background(), opts.Checks)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list warnings", err)
			}

			out := opts.output(cmd)
			if out.Format != "text" {
				rows := make([]map[string]any, 0, len(warnings))
				for _, w := range warnings {
					rows = append(rows, map[string]any{
						"check_id": w.CheckID,
						"taken_at": w.TakenAt.Format(time.RFC3339Nano),
						"position": w.Position,
						"line":     w.Line,
					})
				}
				return out.Success("", rows)
			}
			if len(warnings) == 0 {
				return out.Success("No warnings archived", nil)
			}
			for _, w := range warnings {
				fmt.Fprintf(out.Writer, "#%d %s\n", w.CheckID, w.Line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Checks, "checks", 0, "number of most recent checks to print (0 = all)")
	return cmd
}
