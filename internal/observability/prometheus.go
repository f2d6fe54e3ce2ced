package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusSurface couples a scrape handler with the meter whose
// instruments it collects.
type PrometheusSurface struct {
	// Handler serves the /metrics scrape endpoint.
	Handler http.Handler

	// Meter creates instruments collected by Handler.
	Meter metric.Meter

	// Shutdown releases the meter provider.
	Shutdown func() error
}

// NewPrometheusSurface creates a Prometheus exporter backed by a fresh
// registry and MeterProvider. Each call is independent, so repeated
// construction never conflicts on collector registration.
func NewPrometheusSurface() (*PrometheusSurface, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return &PrometheusSurface{
		Handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Meter:    mp.Meter(meterName),
		Shutdown: func() error { return mp.Shutdown(context.Background()) },
	}, nil
}
