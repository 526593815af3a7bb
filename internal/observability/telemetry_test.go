package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/voxelstore/internal/config"
	"github.com/annel0/voxelstore/internal/storage"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/annel0/voxelstore/internal/world/block"
)

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", samplerFor(0).Description(), "0 означает все трассы")
	assert.Equal(t, "AlwaysOnSampler", samplerFor(1).Description())
	assert.Contains(t, samplerFor(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestResourceAttributes(t *testing.T) {
	res, err := newResource(context.Background(), config.TracingConfig{ServiceVersion: "2.0.1"}, "overworld")
	require.NoError(t, err)

	attrs := make(map[attribute.Key]string)
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "voxelstore", attrs[semconv.ServiceNameKey])
	assert.Equal(t, "2.0.1", attrs[semconv.ServiceVersionKey])
	assert.Equal(t, "overworld", attrs[WorldIDKey])
}

// Спаны Flush мира попадают в провайдер и отправляются по ForceFlush.
// Единственный тест пакета, меняющий глобальный провайдер.
func TestWorldFlushSpansExported(t *testing.T) {
	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	res, err := newResource(ctx, config.TracingConfig{}, "spans")
	require.NoError(t, err)

	tel := &Telemetry{provider: newProvider(exp, res, 0)}
	otel.SetTracerProvider(tel.provider)

	reg := block.NewRegistry(1)
	w := world.NewWorld(reg, world.WithStore(storage.NewMemoryChunkStore()), world.WithID("spans"))
	require.NoError(t, w.WriteBlockState(vec.Pack(1, 2, 3), 5))
	require.NoError(t, w.FlushContext(ctx))

	require.NoError(t, tel.ForceFlush(ctx))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "world.Flush", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("world.id", "spans"))

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == WorldIDKey && kv.Value.AsString() == "spans" {
			found = true
		}
	}
	assert.True(t, found, "Ресурс спана содержит идентификатор мира")

	assert.NoError(t, tel.Shutdown(ctx))
}
