package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"papersift/internal/config"
	"papersift/internal/corpus"
	"papersift/internal/ledger"
	"papersift/internal/oracle"
)

// HealthChecker is implemented by oracle clients that can ping their API.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckOracle verifies that the oracle API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckOracle(ctx context.Context, name string, client oracle.Client) Result {
	checker, ok := client.(HealthChecker)
	if !ok {
		return Result{Name: name, Passed: true, Detail: "health check not supported; skipped"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := checker.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeOracleError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckCredentials verifies an API key is configured for the selected provider.
func CheckCredentials(cfg *config.Config) Result {
	name := "Oracle credentials"
	if err := cfg.RequireOracleCredentials(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s key present (model %s)", cfg.Oracle.Provider, cfg.Oracle.Model)}
}

// CheckCorpus opens the configured corpus, verifies its columns and counts
// the classifiable records.
func CheckCorpus(ctx context.Context, cfg *config.Config, logger *slog.Logger) Result {
	const name = "Corpus"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := corpus.Open(checkCtx, cfg, logger)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()

	if checker, ok := store.(corpus.Checker); ok {
		if err := checker.Check(checkCtx); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("schema check failed (%v)", err)}
		}
	}
	total, err := store.CountTotal(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("count failed (%v)", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s (%d classifiable records)", cfg.Corpus.Driver, cfg.Corpus.Table, total)}
}

// CheckPrompt verifies the configured prompt file is readable and non-empty.
func CheckPrompt(path string) Result {
	const name = "Prompt file"
	if _, err := oracle.LoadPrompt(path); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckLedger reports the ledger database health for status displays. A
// missing database passes: the first run creates it.
func CheckLedger(ctx context.Context, l *ledger.Ledger) Result {
	const name = "Ledger"

	health, err := l.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	switch {
	case !health.DatabaseExists:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", health.DBPath)}
	case health.Error != "":
		return Result{Name: name, Detail: health.Error}
	case len(health.MissingColumns) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("missing columns: %v", health.MissingColumns)}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: "integrity check failed"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%d, %d checkpoints)", health.DBPath, health.SchemaVersion, health.TotalCheckpoints)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// summarizeOracleError produces a human-readable summary for health check failures.
func summarizeOracleError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (oracle API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (oracle API unreachable)"
	}
	return err.Error()
}
