package bitmap

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shared-bitmap/internal/logging"
	"github.com/srediag/shared-bitmap/pkg/shm"
)

const (
	defaultMaxBitmapBytes   = 1 << 30
	defaultMetricsNamespace = "shared_bitmap"
	minBitmapBytes          = BytesPerPixel
)

// Config is used to tune the registry.
type Config struct {
	// MaxBitmapBytes bounds every bitmap's capacity. It may not exceed
	// MaxBitmapBytes (the package constant).
	MaxBitmapBytes int

	// Allocator creates and maps shared regions. Defaults to memfd.
	Allocator shm.Allocator

	// DebugMode turns invariant violations and leaks at Close into panics.
	// Defaults to the BITMAP_DEBUG_MODE env.
	DebugMode bool

	// MetricsNamespace prefixes the prometheus metric names.
	MetricsNamespace string

	// Registerer receives the registry's collectors. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	Meter  metric.Meter
	Tracer trace.Tracer
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxBitmapBytes:   defaultMaxBitmapBytes,
		Allocator:        shm.NewOSAllocator("shared-bitmap"),
		DebugMode:        logging.DebugMode(),
		MetricsNamespace: defaultMetricsNamespace,
		Meter:            metricnoop.NewMeterProvider().Meter("shared-bitmap"),
		Tracer:           tracenoop.NewTracerProvider().Tracer("shared-bitmap"),
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.MaxBitmapBytes < minBitmapBytes {
		return fmt.Errorf("MaxBitmapBytes must be at least %d", minBitmapBytes)
	}
	if config.MaxBitmapBytes > MaxBitmapBytes {
		return fmt.Errorf("MaxBitmapBytes must not exceed %d", MaxBitmapBytes)
	}
	if config.Allocator == nil {
		return errors.New("Allocator is nil")
	}
	if config.MetricsNamespace == "" {
		return errors.New("MetricsNamespace is empty")
	}
	if config.Meter == nil || config.Tracer == nil {
		return errors.New("Meter and Tracer must be set")
	}
	return nil
}
