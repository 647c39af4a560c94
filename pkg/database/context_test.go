package database

import (
	"context"
	"testing"
)

func TestSolutionContext_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := SolutionFromContext(ctx); ok {
		t.Error("empty context should carry no solution")
	}

	ctx = WithSolution(ctx, "acme_rentals")
	name, ok := SolutionFromContext(ctx)
	if !ok {
		t.Fatal("expected solution in context")
	}
	if name != "acme_rentals" {
		t.Errorf("solution = %q, want acme_rentals", name)
	}
}

func TestDatabaseHint_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := DatabaseHintFromContext(ctx); ok {
		t.Error("empty context should carry no hint")
	}

	ctx = WithDatabaseHint(ctx, DatabaseControl)
	hint, ok := DatabaseHintFromContext(ctx)
	if !ok {
		t.Fatal("expected hint in context")
	}
	if hint != DatabaseControl {
		t.Errorf("hint = %q, want %q", hint, DatabaseControl)
	}
}

func TestDatabaseHint_EmptyIsNoOp(t *testing.T) {
	ctx := WithDatabaseHint(context.Background(), "")

	if _, ok := DatabaseHintFromContext(ctx); ok {
		t.Error("empty hint should not be stored")
	}
}
