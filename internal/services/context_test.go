package services_test

import (
	"context"
	"testing"

	"tractkit/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "downsample")
	ctx = services.WithSubject(ctx, "TDC/01-0001")
	ctx = services.WithRunID(ctx, "run-123")

	if stage, ok := services.StageFromContext(ctx); !ok || stage != "downsample" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if subject, ok := services.SubjectFromContext(ctx); !ok || subject != "TDC/01-0001" {
		t.Fatalf("unexpected subject: %v %v", subject, ok)
	}
	if rid, ok := services.RunIDFromContext(ctx); !ok || rid != "run-123" {
		t.Fatalf("unexpected run id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithSubject(ctx, "")
	if _, ok := services.SubjectFromContext(ctx); ok {
		t.Fatal("expected no subject value")
	}
}
