// Package telemetry records the bot's metrics with OpenTelemetry and sets up
// the exporter that ships them.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Supported exporters.
const (
	ExporterNone       = ""
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// MetricConfig holds configuration for the metrics.
type MetricConfig struct {
	// ServiceName is the name of the service.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment.
	Environment string

	// Exporter is ExporterOTLP, ExporterPrometheus or ExporterNone.
	Exporter string

	// OTLPEndpoint is the OTLP gRPC endpoint. Required for ExporterOTLP.
	OTLPEndpoint string

	// ExportInterval is the OTLP push interval. Defaults to 15s.
	ExportInterval time.Duration
}

// MeterProvider is an installed meter provider.
type MeterProvider struct {
	// Provider is also registered as the global provider.
	Provider *sdkmetric.MeterProvider

	// Handler serves /metrics for ExporterPrometheus and is nil otherwise.
	Handler http.Handler
}

// Shutdown flushes and stops the provider.
func (p *MeterProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.Provider == nil {
		return nil
	}
	return p.Provider.Shutdown(ctx)
}

// InitMetrics builds a meter provider for config.Exporter and installs it
// globally. ExporterNone leaves the global no-op provider in place and
// returns a nil *MeterProvider.
func InitMetrics(ctx context.Context, config MetricConfig) (*MeterProvider, error) {
	var (
		reader  sdkmetric.Reader
		handler http.Handler
	)

	switch config.Exporter {
	case ExporterNone:
		return nil, nil
	case ExporterOTLP:
		if config.OTLPEndpoint == "" {
			return nil, fmt.Errorf("OTLP endpoint is required for the otlp exporter")
		}
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := config.ExportInterval
		if interval == 0 {
			interval = 15 * time.Second
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	case ExporterPrometheus:
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = exporter
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", config.Exporter)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	return &MeterProvider{Provider: provider, Handler: handler}, nil
}

// newResource describes the service to metric and trace backends.
func newResource(name, version, environment string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironmentName(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
