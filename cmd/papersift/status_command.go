package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"papersift/internal/config"
	"papersift/internal/ledger"
	"papersift/internal/oracle"
	"papersift/internal/preflight"
)

type runView struct {
	ID           int64      `json:"id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Concurrency  int        `json:"concurrency"`
	RecordLimit  int        `json:"record_limit,omitempty"`
	TotalRecords int        `json:"total_records"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	CostUSD      float64    `json:"cost_usd"`
	Model        string     `json:"model,omitempty"`
}

type statusView struct {
	Ledger           string         `json:"ledger"`
	Healthy          bool           `json:"healthy"`
	Detail           string         `json:"detail"`
	States           map[string]int `json:"states"`
	Labels           map[string]int `json:"labels"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	CostUSD          float64        `json:"cost_usd"`
	LastRun          *runView       `json:"last_run,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger progress and the most recent run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, l *ledger.Ledger) error {
				view, err := loadStatus(cmd.Context(), l)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, view)
				}
				renderStatus(cmd.OutOrStdout(), view, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func loadStatus(ctx context.Context, l *ledger.Ledger) (statusView, error) {
	health := preflight.CheckLedger(ctx, l)
	view := statusView{
		Ledger:  l.Path(),
		Healthy: health.Passed,
		Detail:  health.Detail,
		States:  make(map[string]int),
		Labels:  make(map[string]int),
	}

	counts, err := l.CountByState(ctx)
	if err != nil {
		return view, err
	}
	for state, count := range counts {
		view.States[string(state)] = count
	}

	totals, err := l.Aggregate(ctx)
	if err != nil {
		return view, err
	}
	for _, label := range oracle.Labels {
		view.Labels[string(label)] = totals.ByLabel[label]
	}
	view.PromptTokens = totals.PromptTokens
	view.CompletionTokens = totals.CompletionTokens
	view.CostUSD = totals.CostUSD

	run, err := l.LatestRun(ctx)
	if err != nil {
		return view, err
	}
	if run != nil {
		view.LastRun = &runView{
			ID:           run.ID,
			Status:       string(run.Status),
			StartedAt:    run.StartedAt,
			EndedAt:      run.EndedAt,
			Concurrency:  run.Concurrency,
			RecordLimit:  run.RecordLimit,
			TotalRecords: run.TotalRecords,
			Succeeded:    run.Succeeded,
			Failed:       run.Failed,
			CostUSD:      run.CostUSD,
			Model:        run.Model,
		}
	}
	return view, nil
}

func renderStatus(out io.Writer, view statusView, colorize bool) {
	kind := statusOK
	if !view.Healthy {
		kind = statusError
	}
	fmt.Fprintln(out, sectionHeader("Ledger", colorize))
	fmt.Fprintln(out, renderStatusLine("Database", kind, view.Detail, colorize))

	stateRows := make([][]string, 0, len(ledger.AllStates))
	tracked := 0
	for _, state := range ledger.AllStates {
		count := view.States[string(state)]
		tracked += count
		stateRows = append(stateRows, []string{string(state), humanize.Comma(int64(count))})
	}
	states := tableSpec{
		headers: []string{"State", "Records"},
		numeric: []int{1},
		footer:  []string{"Total", humanize.Comma(int64(tracked))},
	}
	fmt.Fprintln(out, states.render(stateRows))

	classified := 0
	for _, count := range view.Labels {
		classified += count
	}
	labelRows := make([][]string, 0, len(oracle.Labels))
	for _, label := range oracle.Labels {
		count := view.Labels[string(label)]
		labelRows = append(labelRows, []string{string(label), humanize.Comma(int64(count)), percent(count, classified)})
	}
	labelTable := tableSpec{headers: []string{"Label", "Records", "Share"}, numeric: []int{1, 2}}
	fmt.Fprintln(out, labelTable.render(labelRows))

	fmt.Fprintf(out, "%s%-*s %s prompt / %s completion\n", statusIndent, statusLabelWidth, "Tokens:",
		humanize.Comma(view.PromptTokens), humanize.Comma(view.CompletionTokens))
	fmt.Fprintf(out, "%s%-*s $%.4f\n", statusIndent, statusLabelWidth, "Cost:", view.CostUSD)

	fmt.Fprintln(out)
	fmt.Fprintln(out, sectionHeader("Last run", colorize))
	if view.LastRun == nil {
		fmt.Fprintln(out, statusIndent+"No runs recorded yet")
		return
	}
	run := view.LastRun
	fmt.Fprintf(out, "%s%-*s #%d %s (started %s)\n", statusIndent, statusLabelWidth, "Run:", run.ID, run.Status, humanize.Time(run.StartedAt))
	if run.EndedAt != nil {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Duration:", run.EndedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(out, "%s%-*s %d workers, model %s\n", statusIndent, statusLabelWidth, "Settings:", run.Concurrency, run.Model)
	fmt.Fprintf(out, "%s%-*s %s classified, %s failed, $%.4f\n", statusIndent, statusLabelWidth, "Settled:",
		humanize.Comma(int64(run.Succeeded)), humanize.Comma(int64(run.Failed)), run.CostUSD)
}

func percent(part, whole int) string {
	if whole <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(whole))
}
