// Package telemetry sets up OpenTelemetry tracing and metrics for autofix.
//
// Spans and OpenTelemetry metrics are exported over OTLP (gRPC by default,
// http/protobuf optionally). Telemetry is disabled by default; when it is
// enabled but an exporter cannot be created the instance degrades to no-op
// providers instead of failing the command.
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Prometheus metrics are registered separately by each package and served by
// the coordinator's /metrics endpoint.
package telemetry
