// Package telemetry wraps OpenTelemetry SDK initialization, providing one
// place to configure the TracerProvider and MeterProvider for the
// coordination layer. When telemetry is disabled the SDK is never touched
// and the global providers remain noop.
package telemetry
