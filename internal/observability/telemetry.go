package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/voxelstore/internal/config"
	"github.com/annel0/voxelstore/internal/logging"
)

// WorldIDKey задаёт атрибут ресурса с идентификатором обслуживаемого мира
const WorldIDKey = attribute.Key("voxel.world_id")

const shutdownTimeout = 5 * time.Second

// Telemetry владеет TracerProvider процесса
type Telemetry struct {
	provider *sdktrace.TracerProvider
}

// InitTelemetry настраивает OTLP HTTP экспортер по секции tracing и устанавливает
// глобальный TracerProvider. Спаны world.Flush и HTTP-запросов уходят в него.
func InitTelemetry(ctx context.Context, cfg config.TracingConfig, worldID string) (*Telemetry, error) {
	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("экспортер OTLP: %w", err)
	}

	res, err := newResource(ctx, cfg, worldID)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{provider: newProvider(exp, res, cfg.SampleRatio)}
	otel.SetTracerProvider(t.provider)
	logging.Info("📡 OpenTelemetry: service=%s version=%s world=%s endpoint=%s ratio=%s",
		cfg.GetServiceName(), cfg.GetServiceVersion(), worldID, endpointName(cfg.Endpoint), samplerFor(cfg.SampleRatio).Description())
	return t, nil
}

func newResource(ctx context.Context, cfg config.TracingConfig, worldID string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.GetServiceName()),
			semconv.ServiceVersion(cfg.GetServiceVersion()),
			WorldIDKey.String(worldID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("ресурс трассировки: %w", err)
	}
	return res, nil
}

func newProvider(exp sdktrace.SpanExporter, res *resource.Resource, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(ratio)),
	)
}

// samplerFor выбирает сэмплер; доля вне (0, 1) означает запись всех трасс
func samplerFor(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func endpointName(endpoint string) string {
	if endpoint == "" {
		return "env/localhost:4318"
	}
	return endpoint
}

// ForceFlush отправляет накопленные спаны, не останавливая провайдер
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// Shutdown дописывает оставшиеся спаны (в том числе финального Flush мира)
// и останавливает провайдер.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := t.provider.ForceFlush(ctx); err != nil {
		logging.Warn("Не удалось отправить спаны перед остановкой: %v", err)
	}
	return t.provider.Shutdown(ctx)
}
