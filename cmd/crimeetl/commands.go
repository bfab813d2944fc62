package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/crime-data-etl/internal/analysis"
	"github.com/couchcryptid/crime-data-etl/internal/config"
	"github.com/couchcryptid/crime-data-etl/internal/dataset"
	"github.com/couchcryptid/crime-data-etl/internal/pipeline"
)

// datasetsFromArgs resolves dataset names, defaulting to every dataset.
func datasetsFromArgs(args []string) ([]dataset.Dataset, error) {
	if len(args) == 0 {
		args = dataset.Names()
	}
	out := make([]dataset.Dataset, 0, len(args))
	for _, name := range args {
		ds, err := dataset.Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

func (a *app) setupCommand() *cobra.Command {
	var forceRefetch bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the data directories and build every clean dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, dir := range []string{config.RawDir, config.CleanDir, config.OutputDir} {
				if err := os.MkdirAll(filepath.Join(a.cfg.ProjectRoot, dir), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			for _, name := range dataset.Names() {
				ds, _ := dataset.Lookup(name)
				t, err := a.pipeline.LoadClean(cmd.Context(), ds, pipeline.Options{ForceRefetch: forceRefetch})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d rows\n", ds.Name, t.Len())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceRefetch, "force-refetch", false, "download every export again")
	return cmd
}

func (a *app) cleanCommand() *cobra.Command {
	var opts pipeline.Options
	cmd := &cobra.Command{
		Use:   "clean [dataset...]",
		Short: "Load clean datasets, rebuilding them from the raw exports when needed",
		Long: "Load clean datasets, rebuilding them from the raw exports when needed.\n" +
			"Known datasets: " + strings.Join(dataset.Names(), ", "),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := datasetsFromArgs(args)
			if err != nil {
				return err
			}
			for _, ds := range sets {
				t, err := a.pipeline.LoadClean(cmd.Context(), ds, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d rows  %s\n", ds.Name, t.Len(), a.pipeline.CleanPath(ds))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.ForceRefetch, "force-refetch", false, "download the raw export again")
	cmd.Flags().BoolVar(&opts.ForceRebuild, "force-rebuild", false, "rebuild the clean file from the local raw export")
	return cmd
}

func (a *app) updateCommand() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "update [dataset...]",
		Short: "Fetch records added or updated since the newest local record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, name := range dataset.Names() {
					if ds, _ := dataset.Lookup(name); ds.Incremental() {
						args = append(args, name)
					}
				}
			}
			sets, err := datasetsFromArgs(args)
			if err != nil {
				return err
			}
			opts := pipeline.RefreshOptions{Merge: merge, Publish: a.cfg.PublishEnabled}
			for _, ds := range sets {
				res, err := a.pipeline.Refresh(cmd.Context(), ds, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d new or updated, %d total\n", ds.Name, res.Updates.Len(), res.Snapshot.Len())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", true, "merge new records into the clean file")
	return cmd
}

type summarizeFlags struct {
	dataset string
	column  string
	values  []string
	from    string
	to      string
	freq    string
	flag    string
	byBeat  bool
}

func (a *app) summarizeCommand() *cobra.Command {
	var f summarizeFlags
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Write incident counts per period, and optionally per police beat, to output/",
		Example: "  crimeetl summarize --values HOMICIDE --freq month --from 2019-01-01\n" +
			"  crimeetl summarize --dataset violence --column victimization_primary --values HOMICIDE --by-beat",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.summarize(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.dataset, "dataset", dataset.Crime.Name, "incident dataset to summarize")
	flags.StringVar(&f.column, "column", "primary_type", "column the values are matched against")
	flags.StringSliceVar(&f.values, "values", nil, "values to keep (default: all rows)")
	flags.StringVar(&f.from, "from", "", "first date to include, YYYY-MM-DD")
	flags.StringVar(&f.to, "to", "", "last date to include, YYYY-MM-DD")
	flags.StringVar(&f.freq, "freq", string(analysis.Year), "period width: day, week, month or year")
	flags.StringVar(&f.flag, "flag", "arrest", "boolean column counted alongside the totals; empty to skip")
	flags.BoolVar(&f.byBeat, "by-beat", false, "also write counts per police beat")
	return cmd
}

func (a *app) summarize(cmd *cobra.Command, f summarizeFlags) error {
	ctx := cmd.Context()
	ds, err := dataset.Lookup(f.dataset)
	if err != nil {
		return err
	}
	freq, err := analysis.ParseFrequency(f.freq)
	if err != nil {
		return err
	}
	filter := analysis.Filter{DateColumn: "date"}
	if len(f.values) > 0 {
		filter.Column, filter.Values = f.column, f.values
	}
	if filter.Start, err = parseDay(f.from, false); err != nil {
		return err
	}
	if filter.End, err = parseDay(f.to, true); err != nil {
		return err
	}

	t, err := a.pipeline.LoadClean(ctx, ds, pipeline.Options{})
	if err != nil {
		return err
	}
	if f.flag != "" && !t.Has(f.flag) {
		a.logger.Warn("flag column not in dataset, skipping flagged counts", "dataset", ds.Name, "column", f.flag)
		f.flag = ""
	}

	base := reportName(ds.Name, f.values)
	series, err := analysis.PeriodCounts(t, filter, freq, f.flag)
	if err != nil {
		return fmt.Errorf("summarize %s: %w", ds.Name, err)
	}
	path := a.cfg.OutputPath(fmt.Sprintf("%s_per_%s.csv", base, freq))
	if err := analysis.WriteCSV(path, series); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d periods to %s\n", len(series), path)

	if !f.byBeat {
		return nil
	}
	beats, err := a.pipeline.LoadClean(ctx, dataset.Beats, pipeline.Options{})
	if err != nil {
		return err
	}
	groups, err := analysis.Groups(beats, dataset.Beats.KeyColumn)
	if err != nil {
		return err
	}
	counts, err := analysis.GroupCounts(t, "beat", filter, groups)
	if err != nil {
		return fmt.Errorf("summarize %s by beat: %w", ds.Name, err)
	}
	path = a.cfg.OutputPath(base + "_per_beat.csv")
	if err := analysis.WriteCSV(path, counts); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d beats to %s\n", len(counts), path)
	return nil
}

// parseDay parses a YYYY-MM-DD flag. With endOfDay the result is the last
// instant of that day so the bound is inclusive.
func parseDay(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}

func reportName(ds string, values []string) string {
	if len(values) == 0 {
		return ds
	}
	name := strings.ToLower(strings.Join(values, "_"))
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
	return ds + "_" + name
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dataset...]",
		Short: "Run integrity checks over the clean datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, err := datasetsFromArgs(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			allPassed := true
			for _, ds := range sets {
				t, err := a.pipeline.LoadClean(cmd.Context(), ds, pipeline.Options{})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "=== %s (%d rows) ===\n", ds.Name, t.Len())
				phases := dataset.Validate(ds, t)
				for _, p := range phases {
					status := "PASS"
					if !p.Passed() {
						status = fmt.Sprintf("FAIL (%d errors)", p.Failures)
						allPassed = false
					}
					fmt.Fprintf(out, "  %-30s %s\n", p.Name, status)
				}
				for _, p := range phases {
					if p.Passed() {
						continue
					}
					fmt.Fprintf(out, "\n--- %s ---\n", p.Name)
					for i, e := range p.Errors {
						fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
					}
				}
				fmt.Fprintln(out)
			}
			if !allPassed {
				return errors.New("validation failed")
			}
			fmt.Fprintln(out, "All validations passed.")
			return nil
		},
	}
}
