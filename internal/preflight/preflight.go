package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"papersift/internal/config"
	"papersift/internal/oracle"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks that gate a run. The oracle is pinged only
// when cfg.Oracle.HealthCheckOnStartup is set and the client supports it.
func RunAll(ctx context.Context, cfg *config.Config, client oracle.Client, logger *slog.Logger) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Ledger directory (always checked)
	results = append(results, CheckDirectoryAccess("Ledger directory", filepath.Dir(cfg.Paths.LedgerPath)))

	results = append(results, CheckCorpus(ctx, cfg, logger))
	results = append(results, CheckCredentials(cfg))

	if strings.TrimSpace(cfg.Oracle.PromptPath) != "" {
		results = append(results, CheckPrompt(cfg.Oracle.PromptPath))
	}

	if cfg.Oracle.HealthCheckOnStartup {
		results = append(results, CheckOracle(ctx, "Oracle API", client))
	}

	return results
}

// FirstFailure returns an error describing the first failed result, or nil.
func FirstFailure(results []Result) error {
	for _, result := range results {
		if !result.Passed {
			return fmt.Errorf("preflight %s: %s", strings.ToLower(result.Name), result.Detail)
		}
	}
	return nil
}
