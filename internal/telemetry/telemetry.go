// Package telemetry wires the process-wide OTel metric provider the rest of
// the module instruments against via package-level otel.Meter calls
// (mirroring the teacher's internal/storage/dolt instrumentation idiom,
// which registers instruments at init() time against whatever provider is
// current — a no-op until this package's Init runs).
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Shutdown flushes and stops the metric provider Init installed.
type Shutdown func(context.Context) error

// Init installs a periodic-reader metric provider that writes to w
// (typically os.Stderr or io.Discard for tests), returning a Shutdown to
// call on process exit. Calling Init more than once replaces the global
// provider; the daemon calls it exactly once at startup.
func Init(w io.Writer) (Shutdown, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
