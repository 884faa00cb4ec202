package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-bgmq/contracts"
)

// MessageHandler processes an envelope and returns an optional response
type MessageHandler interface {
	Handle(ctx context.Context, env *contracts.Envelope) (any, error)
}

// MessageHandlerFunc is a function adapter for MessageHandler
type MessageHandlerFunc func(ctx context.Context, env *contracts.Envelope) (any, error)

// Handle implements MessageHandler
func (f MessageHandlerFunc) Handle(ctx context.Context, env *contracts.Envelope) (any, error) {
	return f(ctx, env)
}

// Interceptor processes messages before they reach the final handler
type Interceptor interface {
	// Intercept processes a message and calls the next handler in the chain
	Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	return i.fn(ctx, env, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(interceptors ...Interceptor) *InterceptorChain {
	return &InterceptorChain{
		interceptors: append([]Interceptor{}, interceptors...),
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors in the chain
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Wrap returns finalHandler wrapped by every interceptor, the first added outermost
func (c *InterceptorChain) Wrap(finalHandler MessageHandler) MessageHandler {
	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = MessageHandlerFunc(func(ctx context.Context, env *contracts.Envelope) (any, error) {
			return interceptor.Intercept(ctx, env, next)
		})
	}
	return handler
}

// Execute runs env through the chain and finalHandler
func (c *InterceptorChain) Execute(ctx context.Context, env *contracts.Envelope, finalHandler MessageHandler) (any, error) {
	return c.Wrap(finalHandler).Handle(ctx, env)
}

// LoggingInterceptor logs message processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	start := time.Now()

	i.logger.Debug("processing message",
		"messageId", env.ID,
		"messageType", env.TypeName(),
		"retryAttempts", env.RetryAttempts,
	)

	result, err := next.Handle(ctx, env)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("message processing failed",
			"messageId", env.ID,
			"messageType", env.TypeName(),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Debug("message processed successfully",
			"messageId", env.ID,
			"messageType", env.TypeName(),
			"duration", duration,
		)
	}

	return result, err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsInterceptor collects metrics about message processing
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	IncrementMessageCount(messageType string)
	RecordProcessingTime(messageType string, duration time.Duration)
	IncrementErrorCount(messageType string, errorType string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	start := time.Now()
	messageType := env.TypeName()

	i.collector.IncrementMessageCount(messageType)

	result, err := next.Handle(ctx, env)
	i.collector.RecordProcessingTime(messageType, time.Since(start))

	switch {
	case err != nil && !contracts.IsRetryable(err):
		i.collector.IncrementErrorCount(messageType, "non_retryable")
	case err != nil:
		i.collector.IncrementErrorCount(messageType, "processing_error")
	}

	return result, err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// ValidationInterceptor validates messages before processing
type ValidationInterceptor struct {
	validator MessageValidator
}

// MessageValidator defines the interface for message validation
type MessageValidator interface {
	Validate(ctx context.Context, env *contracts.Envelope) error
}

// NewValidationInterceptor creates a new validation interceptor.
// Validation failures are never retried.
func NewValidationInterceptor(validator MessageValidator) *ValidationInterceptor {
	return &ValidationInterceptor{validator: validator}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	if err := i.validator.Validate(ctx, env); err != nil {
		return nil, contracts.NonRetryable(fmt.Errorf("message validation failed: %w", err))
	}

	return next.Handle(ctx, env)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "ValidationInterceptor"
}

// TimeoutInterceptor cancels the handler's context once timeout has passed.
// The handler runs on the caller's goroutine and the interceptor returns when
// it does, so a timed-out envelope is never retried while its first attempt
// is still running. Handlers must watch ctx for the timeout to take effect.
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor. A failure after the deadline is reported
// as a timeout wrapping context.DeadlineExceeded; a panic becomes an error.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (result any, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
		if err != nil && ctx.Err() == nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			result, err = nil, fmt.Errorf("message processing timeout after %v for message %s: %w", i.timeout, env.ID, context.DeadlineExceeded)
		}
	}()

	return next.Handle(timeoutCtx, env)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}
