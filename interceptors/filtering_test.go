package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bgmq/contracts"
)

func taggedEnvelope(tag string) *contracts.Envelope {
	env := contracts.NewEnvelope(testMessage{})
	env.Tag = tag
	return env
}

func TestFilteringInterceptor(t *testing.T) {
	filter := NewTagFilter("orders")

	t.Run("passes matching envelopes through", func(t *testing.T) {
		interceptor := NewFilteringInterceptor(filter, SkipWithError, nil)

		result, err := interceptor.Intercept(context.Background(), taggedEnvelope("orders"), okHandler("handled"))

		require.NoError(t, err)
		assert.Equal(t, "handled", result)
	})

	t.Run("skips silently", func(t *testing.T) {
		handler := &mockHandler{}
		interceptor := NewFilteringInterceptor(filter, SkipSilently, nil)

		result, err := interceptor.Intercept(context.Background(), taggedEnvelope("billing"), handler)

		assert.NoError(t, err)
		assert.Nil(t, result)
		handler.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
	})

	t.Run("skips with a non-retryable error", func(t *testing.T) {
		interceptor := NewFilteringInterceptor(filter, SkipWithError, nil)

		_, err := interceptor.Intercept(context.Background(), taggedEnvelope("billing"), okHandler(nil))

		require.Error(t, err)
		assert.False(t, contracts.IsRetryable(err))
		assert.Contains(t, err.Error(), "message filtered: type=testMessage")
	})

	t.Run("skips with a log line", func(t *testing.T) {
		var buf bytes.Buffer
		interceptor := NewFilteringInterceptor(filter, SkipWithLog, slog.New(slog.NewTextHandler(&buf, nil)))

		_, err := interceptor.Intercept(context.Background(), taggedEnvelope("billing"), okHandler(nil))

		assert.NoError(t, err)
		assert.Contains(t, buf.String(), "message skipped by filter")
	})

	t.Run("wraps filter errors", func(t *testing.T) {
		broken := EnvelopeFilterFunc(func(ctx context.Context, env *contracts.Envelope) (bool, error) {
			return false, errors.New("filter down")
		})

		_, err := NewFilteringInterceptor(broken, SkipSilently, nil).Intercept(context.Background(), taggedEnvelope(""), okHandler(nil))

		assert.EqualError(t, err, "filter error: filter down")
	})
}

func TestCompositeFilters(t *testing.T) {
	ctx := context.Background()
	orders := NewTagFilter("orders")
	fresh := NewMaxRetryFilter(1)

	retried := taggedEnvelope("orders")
	retried.RetryAttempts = 2

	ok, err := NewAllFilter(orders, fresh).ShouldProcess(ctx, taggedEnvelope("orders"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewAllFilter(orders, fresh).ShouldProcess(ctx, retried)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = NewAnyFilter(NewTagFilter("billing"), fresh).ShouldProcess(ctx, taggedEnvelope("orders"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewAnyFilter(NewTagFilter("billing"), fresh).ShouldProcess(ctx, retried)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionalInterceptor(t *testing.T) {
	var calls int
	counting := NewInterceptorFunc("counting", func(ctx context.Context, env *contracts.Envelope, next MessageHandler) (any, error) {
		calls++
		return next.Handle(ctx, env)
	})
	interceptor := NewConditionalInterceptor(NewTagFilter("orders"), counting)

	_, err := interceptor.Intercept(context.Background(), taggedEnvelope("orders"), okHandler(nil))
	require.NoError(t, err)
	_, err = interceptor.Intercept(context.Background(), taggedEnvelope("billing"), okHandler(nil))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "ConditionalInterceptor[counting]", interceptor.Name())
}
