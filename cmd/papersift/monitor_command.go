package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"papersift/internal/config"
	"papersift/internal/corpus"
	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/progress"
)

const clearScreen = "\x1b[H\x1b[2J"

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	var (
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch classification progress from the ledger",
		Long: `Re-read the ledger on an interval and show overall progress, the label
breakdown, throughput of the most recent run and projected cost.

The monitor only reads; it can run alongside an active run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, l *ledger.Ledger) error {
				if interval <= 0 {
					interval = time.Duration(cfg.Progress.MonitorRefresh) * time.Second
				}
				if interval <= 0 {
					interval = 5 * time.Second
				}

				runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				store, err := corpus.Open(runCtx, cfg, logging.NewNop())
				if err != nil {
					return fmt.Errorf("open corpus: %w", err)
				}
				defer store.Close()

				out := cmd.OutOrStdout()
				terminal := shouldColorize(out)
				render := func() error {
					snap, err := monitorSnapshot(runCtx, l, store, time.Now())
					if err != nil {
						return err
					}
					if terminal && !once {
						fmt.Fprint(out, clearScreen)
					}
					renderMonitor(out, snap, terminal)
					return nil
				}

				if err := render(); err != nil || once {
					return err
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-runCtx.Done():
						fmt.Fprintln(out)
						return nil
					case <-ticker.C:
						if err := render(); err != nil {
							return err
						}
					}
				}
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Refresh interval (default progress.monitor_refresh_seconds)")
	cmd.Flags().BoolVar(&once, "once", false, "Render a single snapshot and exit")
	return cmd
}

// monitorSnapshot rebuilds a progress snapshot from persisted state only.
// Rates come from the most recent run row.
func monitorSnapshot(ctx context.Context, l *ledger.Ledger, counter progress.Counter, now time.Time) (progress.Snapshot, error) {
	totals, err := l.Aggregate(ctx)
	if err != nil {
		return progress.Snapshot{}, err
	}
	total, err := counter.CountTotal(ctx)
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("count corpus: %w", err)
	}
	in := progress.Input{Totals: totals, Total: total, Now: now}

	run, err := l.LatestRun(ctx)
	if err != nil {
		return progress.Snapshot{}, err
	}
	if run != nil {
		in.RunID = run.ID
		in.SettledThisRun = int64(run.Succeeded + run.Failed)
		end := now
		if run.EndedAt != nil {
			end = *run.EndedAt
		}
		in.Elapsed = end.Sub(run.StartedAt)
	}
	return progress.Compute(in), nil
}

func renderMonitor(out io.Writer, snap progress.Snapshot, colorize bool) {
	bar := progressbar.NewOptions64(int64(max(snap.Total, 1)),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("classified"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(colorize),
		progressbar.OptionSetRenderBlankState(true),
	)
	_ = bar.Set64(int64(snap.Completed))
	fmt.Fprintln(out)

	line := func(label, value string) {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, label+":", value)
	}
	line("Progress", fmt.Sprintf("%s / %s (%.1f%%), %s pending",
		humanize.Comma(int64(snap.Completed)), humanize.Comma(int64(snap.Total)), snap.Percent(), humanize.Comma(int64(snap.Pending))))
	line("Labels", fmt.Sprintf("%s valid, %s doubted, %s not valid, %s failed",
		humanize.Comma(int64(snap.Valid)), humanize.Comma(int64(snap.Doubted)), humanize.Comma(int64(snap.NotValid)), humanize.Comma(int64(snap.Failed))))
	if snap.RunID > 0 {
		rate := fmt.Sprintf("%.1f records/min over run #%d", snap.PerMinute(), snap.RunID)
		if snap.ETA > 0 {
			rate += ", ETA " + snap.ETA.Round(time.Second).String()
		}
		line("Throughput", rate)
	}
	line("Tokens", fmt.Sprintf("%s (%.0f per record)",
		humanize.Comma(snap.PromptTokens+snap.CompletionTokens), snap.AvgTokensPerRecord))
	line("Cost", fmt.Sprintf("$%.4f spent, $%.4f projected", snap.CostUSD, snap.ProjectedCostUSD))
	line("Updated", snap.Timestamp.Format(time.TimeOnly))
}
