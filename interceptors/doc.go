// Package interceptors provides middleware that wraps a handler's process function.
//
// Interceptors run on the worker goroutine, inside the broker's failure
// handling: an error returned by an interceptor is treated exactly like an
// error returned by the process function.
//
// Built-in interceptors:
//   - LoggingInterceptor: structured slog output per message
//   - MetricsInterceptor: counts and timings through a MetricsCollector
//     (PrometheusCollector is the bundled implementation)
//   - TracingInterceptor: OpenTelemetry span per message
//   - ValidationInterceptor: rejects invalid messages as non-retryable
//   - TimeoutInterceptor: bounds processing time
//   - FilteringInterceptor: drops envelopes an EnvelopeFilter rejects
//   - ConditionalInterceptor: applies another interceptor to matching envelopes only
//   - DuplicateDetectionInterceptor: skips envelope IDs that already succeeded
//
// Example usage:
//
//	collector := interceptors.NewPrometheusCollector(nil)
//	_ = collector.Register()
//
//	broker := messaging.NewBroker(
//		messaging.WithInterceptors(
//			interceptors.NewTracingInterceptor(nil),
//			interceptors.NewMetricsInterceptor(collector),
//			interceptors.NewLoggingInterceptor(logger),
//		),
//	)
package interceptors
