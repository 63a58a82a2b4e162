package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	t.Parallel()

	require.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AddsAttributes(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	buf := &bytes.Buffer{}
	base := slog.New(slog.NewTextHandler(buf, nil))
	ctx := WithLogger(context.Background(), base)

	// --- Act ---
	ctx, logger := With(ctx, "component", "ta")
	FromContext(ctx).Info("step done")

	// --- Assert ---
	require.Same(t, logger, FromContext(ctx))
	require.Contains(t, buf.String(), "component=ta")
	require.Contains(t, buf.String(), "step done")
}
