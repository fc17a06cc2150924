// Package logging provides structured logging for mindpalace.
//
// Logger wraps Zap with:
//   - Stdout plus optional OpenTelemetry output
//   - Context field injection (trace_id, request.id, thought.id)
//   - Secret redaction at the encoder
//   - Level-aware sampling (errors never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithThoughtID(ctx, 42)
//	logger.Info(ctx, "insight stored", zap.Int("chars", 31))
//
// Components that only need a plain *zap.Logger get one from Underlying().
// Tests use NewTestLogger and its Assert helpers.
package logging
