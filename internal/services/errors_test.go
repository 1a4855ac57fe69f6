package services_test

import (
	"errors"
	"strings"
	"testing"

	"papersift/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrConfiguration, "pipeline", "load prompt", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"pipeline", "load prompt", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err)
	}
}

func TestInfrastructureClassification(t *testing.T) {
	err := services.Infrastructure("ledger", "commit result", errors.New("disk I/O error"))
	if !services.IsInfrastructure(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if services.IsInfrastructure(services.Wrap(services.ErrValidation, "oracle", "decode", "bad", nil)) {
		t.Fatal("validation error must not halt the run")
	}
}
