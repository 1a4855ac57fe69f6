package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestTeeCollapsesTrivialSets(t *testing.T) {
	if _, ok := tee(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every sink is nil")
	}
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	if h := tee(nil, inner); h != inner {
		t.Fatal("expected a single sink to be returned unwrapped")
	}
}

func TestTeeRespectsPerSinkLevels(t *testing.T) {
	var infoBuf, errBuf bytes.Buffer
	info := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	errs := slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError})

	logger := slog.New(tee(info, errs)).With("component", "dispatch")
	logger.Info("attempt settled")
	logger.Error("ledger unavailable")

	if !strings.Contains(infoBuf.String(), "attempt settled") || !strings.Contains(infoBuf.String(), "ledger unavailable") {
		t.Fatalf("info sink missing records: %q", infoBuf.String())
	}
	if strings.Contains(errBuf.String(), "attempt settled") {
		t.Fatalf("error sink received info record: %q", errBuf.String())
	}
	if !strings.Contains(errBuf.String(), "component=dispatch") {
		t.Fatalf("expected attrs propagated to error sink: %q", errBuf.String())
	}
	if tee(info, errs).Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug disabled when no sink accepts it")
	}
}

func TestTeeKeepsWritingAfterSinkFailure(t *testing.T) {
	var buf bytes.Buffer
	good := slog.NewTextHandler(&buf, nil)
	bad := failingHandler{Handler: slog.NewTextHandler(&bytes.Buffer{}, nil)}

	h := tee(bad, good)
	err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "run started", 0))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink failure to be reported, got %v", err)
	}
	if !strings.Contains(buf.String(), "run started") {
		t.Fatalf("expected healthy sink to receive the record: %q", buf.String())
	}
}
