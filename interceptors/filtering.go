package interceptors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-bgmq/contracts"
)

// EnvelopeFilter decides whether an envelope reaches the handler
type EnvelopeFilter interface {
	ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error)
}

// EnvelopeFilterFunc is a function adapter for EnvelopeFilter
type EnvelopeFilterFunc func(ctx context.Context, env *contracts.Envelope) (bool, error)

// ShouldProcess implements EnvelopeFilter
func (f EnvelopeFilterFunc) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	return f(ctx, env)
}

// SkipBehavior defines what happens to a filtered envelope
type SkipBehavior int

const (
	// SkipSilently counts the envelope as processed without a response
	SkipSilently SkipBehavior = iota
	// SkipWithError fails the envelope with a non-retryable error, dead-lettering it
	SkipWithError
	// SkipWithLog behaves like SkipSilently and logs the skip
	SkipWithLog
)

// FilteringInterceptor drops envelopes rejected by its filter
type FilteringInterceptor struct {
	filter       EnvelopeFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a filtering interceptor. logger is only used by SkipWithLog.
func NewFilteringInterceptor(filter EnvelopeFilter, skipBehavior SkipBehavior, logger *slog.Logger) *FilteringInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	shouldProcess, err := i.filter.ShouldProcess(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}

	if shouldProcess {
		return next.Handle(ctx, env)
	}

	switch i.skipBehavior {
	case SkipWithError:
		return nil, contracts.NonRetryable(fmt.Errorf("message filtered: type=%s, id=%s", env.TypeName(), env.ID))
	case SkipWithLog:
		i.logger.Info("message skipped by filter", "messageId", env.ID, "messageType", env.TypeName())
	}
	return nil, nil
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// AllFilter passes an envelope only when every filter does
type AllFilter struct {
	filters []EnvelopeFilter
}

// NewAllFilter creates a filter combining filters with AND
func NewAllFilter(filters ...EnvelopeFilter) *AllFilter {
	return &AllFilter{filters: filters}
}

// ShouldProcess implements EnvelopeFilter
func (f *AllFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		ok, err := filter.ShouldProcess(ctx, env)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// AnyFilter passes an envelope when at least one filter does
type AnyFilter struct {
	filters []EnvelopeFilter
}

// NewAnyFilter creates a filter combining filters with OR
func NewAnyFilter(filters ...EnvelopeFilter) *AnyFilter {
	return &AnyFilter{filters: filters}
}

// ShouldProcess implements EnvelopeFilter
func (f *AnyFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	for _, filter := range f.filters {
		ok, err := filter.ShouldProcess(ctx, env)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// TagFilter passes envelopes carrying one of the allowed tags
type TagFilter struct {
	tags map[string]struct{}
}

// NewTagFilter creates a filter on Envelope.Tag
func NewTagFilter(tags ...string) *TagFilter {
	allowed := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		allowed[tag] = struct{}{}
	}
	return &TagFilter{tags: allowed}
}

// ShouldProcess implements EnvelopeFilter
func (f *TagFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	_, ok := f.tags[env.Tag]
	return ok, nil
}

// MaxRetryFilter passes envelopes that have not been retried more than max times
type MaxRetryFilter struct {
	max int
}

// NewMaxRetryFilter creates a filter on Envelope.RetryAttempts
func NewMaxRetryFilter(max int) *MaxRetryFilter {
	return &MaxRetryFilter{max: max}
}

// ShouldProcess implements EnvelopeFilter
func (f *MaxRetryFilter) ShouldProcess(ctx context.Context, env *contracts.Envelope) (bool, error) {
	return env.RetryAttempts <= f.max, nil
}

// ConditionalInterceptor runs interceptor only for envelopes passing condition
type ConditionalInterceptor struct {
	condition   EnvelopeFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition EnvelopeFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
	shouldExecute, err := i.condition.ShouldProcess(ctx, env)
	if err != nil {
		return nil, err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, env, next)
	}
	return next.Handle(ctx, env)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
