package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"papersift/internal/config"
	"papersift/internal/ledger"
	"papersift/internal/oracle"
)

// exportRecord is the stable export shape of one checkpoint.
type exportRecord struct {
	RecordID      string         `json:"record_id"`
	State         string         `json:"state"`
	Result        *oracle.Result `json:"result,omitempty"`
	RetryCount    int            `json:"retry_count"`
	LastError     string         `json:"last_error,omitempty"`
	LastErrorKind string         `json:"last_error_kind,omitempty"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	RunID         int64          `json:"run_id,omitempty"`
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		format string
		output string
		state  string
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export settled checkpoints as JSON or JSON Lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := exportFilter(state, labels)
			if err != nil {
				return err
			}
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "json" && format != "jsonl" {
				return fmt.Errorf("unsupported format %q (want json or jsonl)", format)
			}
			return ctx.withLedger(func(_ *config.Config, l *ledger.Ledger) error {
				out := cmd.OutOrStdout()
				if output != "" && output != "-" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create export file: %w", err)
					}
					defer file.Close()
					out = file
				}
				count, err := exportCheckpoints(cmd, l, filter, format, out)
				if err != nil {
					return err
				}
				if output != "" && output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", count, output)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "jsonl", "Output format: json or jsonl")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	cmd.Flags().StringVar(&state, "state", "succeeded", "Checkpoints to include: succeeded, failed, or all")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "Only include these labels (repeatable)")
	return cmd
}

func exportFilter(state string, labels []string) (ledger.Filter, error) {
	var filter ledger.Filter
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "", "succeeded":
		filter.States = []ledger.State{ledger.StateSucceeded}
	case "failed":
		filter.States = []ledger.State{ledger.StateFailed}
	case "all":
	default:
		return filter, fmt.Errorf("unsupported state %q (want succeeded, failed, or all)", state)
	}
	for _, raw := range labels {
		label, ok := oracle.ParseLabel(raw)
		if !ok {
			return filter, fmt.Errorf("unknown label %q", raw)
		}
		filter.Labels = append(filter.Labels, label)
	}
	return filter, nil
}

func exportCheckpoints(cmd *cobra.Command, l *ledger.Ledger, filter ledger.Filter, format string, out io.Writer) (int, error) {
	buffered := bufio.NewWriter(out)
	enc := json.NewEncoder(buffered)

	var (
		count int
		all   []exportRecord
	)
	err := l.Scan(cmd.Context(), filter, func(cp ledger.Checkpoint) error {
		record := exportRecord{
			RecordID:      cp.RecordID,
			State:         string(cp.State),
			Result:        cp.Result,
			RetryCount:    cp.RetryCount,
			LastError:     cp.LastError,
			LastErrorKind: string(cp.LastErrorKind),
			LastAttemptAt: cp.LastAttemptAt,
			RunID:         cp.RunID,
		}
		count++
		if format == "json" {
			all = append(all, record)
			return nil
		}
		return enc.Encode(record)
	})
	if err != nil {
		return count, err
	}
	if format == "json" {
		if all == nil {
			all = []exportRecord{}
		}
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			return count, err
		}
	}
	return count, buffered.Flush()
}
