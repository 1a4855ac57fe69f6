package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"papersift/internal/config"
	"papersift/internal/ledger"
	"papersift/internal/oracle"
	"papersift/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

// setupCLITestEnv writes a config file pointing at temp paths and seeds a
// four-paper corpus.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	for _, key := range []string{"OPENAI_API_KEY", "USE_MODULE", "RESULTS_DB_PATH", "LOG_DIR", "MAX_WORKERS", "PAPERSIFT_REDIS_URL"} {
		t.Setenv(key, "")
	}

	testsupport.SeedPapersDB(t, cfg.Corpus.Path, []testsupport.Paper{
		{DOI: testsupport.Str("10.1/a"), Title: testsupport.Str("Alpha"), Abstract: testsupport.Str("First")},
		{DOI: testsupport.Str("10.1/b"), Title: testsupport.Str("Beta"), Abstract: testsupport.Str("Second")},
		{DOI: testsupport.Str("10.1/c"), Title: testsupport.Str("Gamma"), Abstract: testsupport.Str("Third")},
		{DOI: testsupport.Str("10.1/d"), Title: testsupport.Str("Delta"), Abstract: testsupport.Str("Fourth")},
	})

	configPath := filepath.Join(base, "papersift.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
data_dir = %q
ledger_path = %q
log_dir = %q
env_file = %q

[corpus]
driver = "sqlite"
path = %q

[oracle]
api_key = "test-key"

[progress]
snapshot_files = false
`,
		cfg.Paths.DataDir,
		cfg.Paths.LedgerPath,
		cfg.Paths.LogDir,
		filepath.Join(filepath.Dir(path), "missing.env"),
		cfg.Corpus.Path,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// seedLedger settles two records as valid, one as not_valid and one as a
// permanent failure inside a finished run.
func seedLedger(t *testing.T, cfg *config.Config) {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	runID, err := l.StartRun(ctx, ledger.RunStart{Concurrency: 2, Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	commit := func(id string, label oracle.Label) {
		if _, err := l.MarkInFlight(ctx, id); err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
		if _, err := l.CommitResult(ctx, id, testsupport.ValidResult(label)); err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
	}
	commit("10.1/a", oracle.LabelValid)
	commit("10.1/b", oracle.LabelValid)
	commit("10.1/c", oracle.LabelNotValid)
	if _, err := l.CommitFailure(ctx, "10.1/d", ledger.Failure{Summary: "content policy", Kind: oracle.KindPermanent}); err != nil {
		t.Fatalf("commit failure: %v", err)
	}
	if err := l.FinishRun(ctx, runID, ledger.RunCompleted, ledger.RunTally{TotalRecords: 4, Succeeded: 3, Failed: 1}); err != nil {
		t.Fatalf("finish run: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q\n%s", want, got)
	}
}
