package context

import (
	"context"
	"testing"
)

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), "staff", "EMP-7")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTerminalID(ctx, "terminal-1")

	actorType, actorID := ActorFromContext(ctx)
	if actorType != "staff" || actorID != "EMP-7" {
		t.Fatalf("unexpected actor %q/%q", actorType, actorID)
	}
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := TerminalIDFromContext(ctx); got != "terminal-1" {
		t.Fatalf("expected terminal id terminal-1, got %q", got)
	}
	if got := SessionIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty session id, got %q", got)
	}
}
