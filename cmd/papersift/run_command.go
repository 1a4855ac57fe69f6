package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"papersift/internal/pipeline"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify pending records, resuming from the ledger",
		Long: `Classify every record the ledger has not settled yet.

Records already classified or permanently failed are never sent again, and
attempts left in flight by an interrupted run are retried. Interrupt once to
drain in-flight work; interrupt again to stop immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := pipeline.Run(cmd.Context(), cfg, opts)
			if result.RunID > 0 {
				renderRunSummary(cmd.OutOrStdout(), result)
			}
			if code := pipeline.ExitCode(result, err); code != pipeline.ExitOK {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "Concurrent oracle calls (overrides dispatch.concurrency)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Maximum records to take this run (overrides dispatch.limit)")
	cmd.Flags().BoolVar(&opts.Test, "test", false, "Test mode: 5 records with 2 workers")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Skip readiness checks before dispatching")
	return cmd
}

func renderRunSummary(out io.Writer, result pipeline.Result) {
	s := result.Snapshot
	fmt.Fprintf(out, "\nRun %d %s in %s\n", result.RunID, result.Status, result.Duration.Round(time.Second))
	fmt.Fprintf(out, "  %-12s %s this run (%s in ledger: valid %s, doubted %s, not valid %s)\n", "Classified:",
		humanize.Comma(int64(result.Summary.Succeeded)), humanize.Comma(int64(s.Completed)),
		humanize.Comma(int64(s.Valid)), humanize.Comma(int64(s.Doubted)), humanize.Comma(int64(s.NotValid)))
	fmt.Fprintf(out, "  %-12s %s\n", "Failed:", humanize.Comma(int64(result.Summary.Failed)))
	if result.Summary.Retries > 0 {
		fmt.Fprintf(out, "  %-12s %s\n", "Retries:", humanize.Comma(int64(result.Summary.Retries)))
	}
	if result.Recovered > 0 {
		fmt.Fprintf(out, "  %-12s %s\n", "Recovered:", humanize.Comma(result.Recovered))
	}
	fmt.Fprintf(out, "  %-12s %s of %s\n", "Pending:", humanize.Comma(int64(s.Pending)), humanize.Comma(int64(s.Total)))
	fmt.Fprintf(out, "  %-12s $%.4f (projected $%.2f)\n", "Cost:", s.CostUSD, s.ProjectedCostUSD)
}
