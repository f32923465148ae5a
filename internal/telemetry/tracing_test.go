package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitTracerProviderLogsSpans(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, "reposync-test", zap.New(core))
	require.NoError(t, err)

	parentCtx, parent := otel.Tracer("test").Start(ctx, "assemble")
	_, child := otel.Tracer("test").Start(parentCtx, "releases")
	child.SetAttributes(attribute.String("repo", "o/r"))
	child.End()
	parent.End()
	require.NoError(t, tp.Shutdown(ctx))

	entries := logs.Filter(func(e observer.LoggedEntry) bool {
		return e.LoggerName == "trace"
	}).All()
	require.Len(t, entries, 2)
	require.Equal(t, "releases", entries[0].Message)
	fields := entries[0].ContextMap()
	require.Equal(t, "o/r", fields["repo"])
	require.Contains(t, fields, "parent_id")
	require.Equal(t, "assemble", entries[1].Message)
	require.NotContains(t, entries[1].ContextMap(), "parent_id")
	require.NotEmpty(t, otel.GetTextMapPropagator().Fields())
}
