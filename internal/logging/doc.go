// Package logging provides structured logging with OpenTelemetry integration.
//
// Logger wraps zap with context-aware methods. Every entry logged through
// it carries the correlation fields found in the context: trace_id and
// span_id of the active span, plus batch.id, issue.id and task.id set by
// the scheduler and the backends.
//
//	ctx = logging.WithBatchID(ctx, report.BatchID)
//	logger.Info(ctx, "batch completed", zap.Int("successful", n))
//
// Components that only need a plain *zap.Logger (mutator, backends,
// coordinator) receive Underlying().
//
// # Sampling
//
// Level-aware sampling prevents log floods. Each level below error has its
// own initial/thereafter budget per tick; error and above are never
// sampled.
//
// # Secret Redaction
//
// Secrets are redacted at three layers: the config.Secret type, field names
// matched by the redacting encoder, and value patterns matched by the same
// encoder.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	s := scheduler.New(registry, tl.Logger)
//	tl.AssertLogged(t, zapcore.InfoLevel, "batch completed")
package logging
