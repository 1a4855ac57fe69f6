package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"papersift/internal/ledger"
	"papersift/internal/logging"
	"papersift/internal/oracle"
	"papersift/internal/pipeline"
	"papersift/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var skipPing bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check configuration, corpus, ledger and oracle before a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checkCfg := *cfg
			checkCfg.Oracle.HealthCheckOnStartup = !skipPing

			var client oracle.Client
			if checkCfg.RequireOracleCredentials() == nil {
				client, err = pipeline.NewOracle(&checkCfg)
				if err != nil {
					return err
				}
			} else {
				checkCfg.Oracle.HealthCheckOnStartup = false
			}

			results := preflight.RunAll(cmd.Context(), &checkCfg, client, logging.NewNop())
			if l, err := ledger.Open(&checkCfg); err != nil {
				results = append(results, preflight.Result{Name: "Ledger", Detail: err.Error()})
			} else {
				results = append(results, preflight.CheckLedger(cmd.Context(), l))
				l.Close()
			}

			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(preflightLines(results, shouldColorize(cmd.OutOrStdout())), "\n"))
			for _, result := range results {
				if !result.Passed {
					return errors.New("preflight checks failed")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPing, "skip-ping", false, "Do not send a health request to the oracle")
	return cmd
}
