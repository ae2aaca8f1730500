package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"basegraph.app/intake/core/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys specific to intake processes.
const (
	ComponentKey    = attribute.Key("intake.component")
	QueueModeKey    = attribute.Key("intake.queue.mode")
	StoreModeKey    = attribute.Key("intake.store.mode")
	StreamPrefixKey = attribute.Key("intake.queue.stream_prefix")
)

type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Attributes describes one intake process: which binary it is and how its
// queue and store were configured. Modes are the configured ones; a runtime
// that degrades to the ephemeral queue logs that separately.
func Attributes(cfg config.Config, component config.ServiceType) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.OTel.ServiceName),
		semconv.ServiceVersion(cfg.OTel.ServiceVersion),
		semconv.ServiceNamespace("intake"),
		semconv.DeploymentEnvironment(cfg.Env),
		ComponentKey.String(string(component)),
		StoreModeKey.String(cfg.StoreMode),
	}
	// The server only produces; only consumers carry queue identity.
	if component != config.ServiceTypeServer {
		attrs = append(attrs,
			QueueModeKey.String(cfg.Queue.Mode),
			StreamPrefixKey.String(cfg.Queue.StreamPrefix),
		)
	}
	if cfg.Queue.Consumer != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(cfg.Queue.Consumer+"/"+string(component)))
	}
	return attrs
}

// newResource layers the intake attributes over the SDK defaults. They are
// schemaless so the merge never conflicts with the SDK's own semconv version.
func newResource(cfg config.Config, component config.ServiceType) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(Attributes(cfg, component)...),
	)
}

// Setup installs OTLP trace and log providers for the given binary. It
// returns nil when no exporter endpoint is configured.
func Setup(ctx context.Context, cfg config.Config, component config.ServiceType) (*Telemetry, error) {
	if !cfg.OTel.Enabled() {
		return nil, nil
	}

	headers := parseHeaders(cfg.OTel.Headers)

	res, err := newResource(cfg, component)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.OTel.Endpoint+"/v1/traces"),
		otlptracehttp.WithHeaders(headers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(cfg.OTel.Endpoint+"/v1/logs"),
		otlploghttp.WithHeaders(headers),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(loggerProvider)

	return &Telemetry{
		tracerProvider: tracerProvider,
		loggerProvider: loggerProvider,
	}, nil
}

// parseHeaders reads the OTEL_EXPORTER_OTLP_HEADERS form: k1=v1,k2=v2.
// Values may contain '='; pairs without one are skipped.
func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	if s == "" {
		return headers
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers
}
