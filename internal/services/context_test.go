package services_test

import (
	"context"
	"testing"

	"papersift/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRecordID(ctx, "10.1000/xyz")
	ctx = services.WithAttempt(ctx, 2)
	ctx = services.WithRunID(ctx, 7)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RecordIDFromContext(ctx); !ok || id != "10.1000/xyz" {
		t.Fatalf("unexpected record id: %v %v", id, ok)
	}
	if attempt, ok := services.AttemptFromContext(ctx); !ok || attempt != 2 {
		t.Fatalf("unexpected attempt: %v %v", attempt, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != 7 {
		t.Fatalf("unexpected run id: %v %v", run, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRecordID(ctx, "")
	ctx = services.WithAttempt(ctx, 0)
	if _, ok := services.RecordIDFromContext(ctx); ok {
		t.Fatal("expected no record id value")
	}
	if _, ok := services.AttemptFromContext(ctx); ok {
		t.Fatal("expected no attempt value")
	}
	if _, ok := services.RunIDFromContext(ctx); ok {
		t.Fatal("expected no run id value")
	}
}
