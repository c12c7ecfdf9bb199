package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/pipeline"
	"github.com/abhijeetnardele24-hash/FloatChat-AI-Powered-Conversational-Analytics-for-ARGO-Ocean-Data/internal/store"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run index, fetch, parse and load in order",
		Long: `Runs every stage in order and stops at the first stage that fails.
Use --limit to cap the number of files fetched (0 fetches everything).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				sums, err := p.Run(ctx, pipeline.Options{Limit: a.cfg.Fetch.Limit})
				printSummaries(cmd.OutOrStdout(), sums)
				return err
			})
		},
	}
}

func (a *app) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Download and filter the global profile index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				sum, err := p.RunIndex(ctx)
				return report(cmd, sum, err)
			})
		},
	}
}

func (a *app) fetchCmd() *cobra.Command {
	var retryFailed bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Mirror the NetCDF files listed in the filtered catalogue",
		Long: `Downloads the files of the filtered catalogue into the raw data directory.
Files already present and intact are skipped. Failures are written to
failed_downloads.txt; --retry-failed fetches only those files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				sum, err := p.RunFetch(ctx, pipeline.Options{
					Limit:       a.cfg.Fetch.Limit,
					RetryFailed: retryFailed,
				})
				return report(cmd, sum, err)
			})
		},
	}
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "only fetch files listed in failed_downloads.txt")
	return cmd
}

func (a *app) parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Decode mirrored NetCDF files and stage the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				sum, err := p.RunParse(ctx)
				return report(cmd, sum, err)
			})
		},
	}
}

func (a *app) loadCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the staged batch into the database",
		Long: `Reads the staged batch written by parse and inserts floats, profiles and
measurements. Records that violate a constraint are written to
failed_records.txt. --dry-run validates against an in-memory store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				var mem *store.MemoryStore
				if dryRun {
					mem = store.NewMemoryStore()
					p.UseStore(mem)
				}
				sum, err := p.RunLoad(ctx)
				if err := report(cmd, sum, err); err != nil {
					return err
				}
				if mem != nil {
					st, err := mem.Stats(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "dry run, nothing written")
					printStats(cmd.OutOrStdout(), st)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "load into an in-memory store instead of the database")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row counts and coverage of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline) error {
				s, err := p.Store(ctx)
				if err != nil {
					return err
				}
				st, err := s.Stats(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

// report prints the summary of a single stage and passes its error through.
func report(cmd *cobra.Command, sum pipeline.StageSummary, err error) error {
	printSummaries(cmd.OutOrStdout(), []pipeline.StageSummary{sum})
	return err
}

func printSummaries(w io.Writer, sums []pipeline.StageSummary) {
	if len(sums) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSUCCEEDED\tSKIPPED\tFAILED\tDURATION")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Name,
			humanize.Comma(int64(s.Succeeded)),
			humanize.Comma(int64(s.Skipped)),
			humanize.Comma(int64(s.Failed)),
			s.Duration.Round(time.Millisecond),
		)
	}
	tw.Flush()
}

func printStats(w io.Writer, st store.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "floats\t%s\n", humanize.Comma(st.Floats))
	fmt.Fprintf(tw, "profiles\t%s\n", humanize.Comma(st.Profiles))
	fmt.Fprintf(tw, "measurements\t%s\n", humanize.Comma(st.Measurements))
	if !st.FirstDate.IsZero() {
		fmt.Fprintf(tw, "dates\t%s to %s\n", st.FirstDate.Format("2006-01-02"), st.LastDate.Format("2006-01-02"))
		fmt.Fprintf(tw, "latitude\t%.3f to %.3f\n", st.LatMin, st.LatMax)
		fmt.Fprintf(tw, "longitude\t%.3f to %.3f\n", st.LonMin, st.LonMax)
	}
	tw.Flush()
}
