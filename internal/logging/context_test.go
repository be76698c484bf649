package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RunID(ctx); got != "" {
		t.Fatalf("expected empty run ID, got %q", got)
	}

	ctx = WithRunID(ctx, "run-1")
	ctx = WithNodeID(ctx, "node-a")

	if got := RunID(ctx); got != "run-1" {
		t.Errorf("RunID = %q, want run-1", got)
	}
	if got := NodeID(ctx); got != "node-a" {
		t.Errorf("NodeID = %q, want node-a", got)
	}
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithNodeID(WithRunID(context.Background(), "run-42"), "wait-1")
	logger.InfoContext(ctx, "suspended")

	out := buf.String()
	if !strings.Contains(out, "run_id=run-42") {
		t.Errorf("missing run_id attribute: %s", out)
	}
	if !strings.Contains(out, "node_id=wait-1") {
		t.Errorf("missing node_id attribute: %s", out)
	}
}

func TestCorrelationHandlerSkipsEmptyIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	out := buf.String()
	if strings.Contains(out, "run_id") || strings.Contains(out, "node_id") {
		t.Errorf("unexpected correlation attributes: %s", out)
	}
}
