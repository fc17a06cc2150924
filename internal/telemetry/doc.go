// Package telemetry wires OpenTelemetry tracing and metrics for mindpalace.
//
// Spans cover the submission flow and each annotation; HTTP request metrics
// are recorded through the meter. Export goes to an OTLP collector over gRPC
// or HTTP.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Otel, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Telemetry failures never stop the service. A provider that cannot be built
// leaves the instance degraded and callers fall back to the global no-op
// providers.
//
// Tests use TestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	a, _ := annotator.New(c, s, cfg, annotator.WithTracer(tt.Tracer("test")))
//	tt.AssertSpanExists(t, "annotator.Annotate")
package telemetry
