package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"papersift/internal/logging"
	"papersift/internal/pipeline"
	"papersift/internal/preflight"
	"papersift/internal/services"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Database", statusError, "unreadable", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Database:", "[ERROR] unreadable")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Database", statusOK, "ready", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestPreflightLines(t *testing.T) {
	results := []preflight.Result{
		{Name: "Corpus", Passed: true, Detail: "sqlite papers.db (4 classifiable records)"},
		{Name: "Oracle API", Passed: false, Detail: "401 invalid key"},
	}
	lines := preflightLines(results, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR] 1 of 2 checks failed") {
		t.Fatalf("expected failing summary first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[OK] sqlite papers.db") {
		t.Fatalf("unexpected corpus line %q", lines[1])
	}
	if !strings.Contains(lines[2], "[ERROR] 401 invalid key") {
		t.Fatalf("unexpected oracle line %q", lines[2])
	}

	lines = preflightLines(results[:1], false)
	if !strings.Contains(lines[0], "[OK] 1 checks passed") {
		t.Fatalf("expected passing summary, got %q", lines[0])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	cause := services.Infrastructure("ledger", "commit", errors.New("disk full"))
	err := error(&exitError{code: pipeline.ExitCode(pipeline.Result{}, cause), err: cause})

	var exit *exitError
	if !errors.As(err, &exit) || exit.code != pipeline.ExitInfrastructure {
		t.Fatalf("expected infrastructure exit code, got %v", err)
	}
	if !services.IsInfrastructure(err) {
		t.Fatal("expected wrapped infrastructure error to remain detectable")
	}
	if got := (&exitError{code: 130}).Error(); got != "exit status 130" {
		t.Fatalf("unexpected message %q", got)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatal("did not expect cancellation")
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}

func TestPreflightCommandSkipPing(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"preflight", "--skip-ping"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	requireContains(t, out, "checks passed")
	requireContains(t, out, "4 classifiable records")
}

func TestLogsCommandFiltersByRun(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "2026-01-02T10:00:00Z INFO pipeline: run started run_id=1\n" +
		"2026-01-02T11:00:00Z INFO pipeline: run started run_id=2\n"
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, logging.FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs", "--run", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "run_id=1") || !strings.Contains(out, "run_id=2") {
		t.Fatalf("unexpected logs output:\n%s", out)
	}
}
