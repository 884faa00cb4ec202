package interceptors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bgmq/contracts"
)

func TestDuplicateDetectionInterceptor(t *testing.T) {
	ctx := context.Background()
	interceptor := NewDuplicateDetectionInterceptor(NewMemoryDuplicateDetector(10))

	var calls int
	counting := MessageHandlerFunc(func(ctx context.Context, env *contracts.Envelope) (any, error) {
		calls++
		return "handled", nil
	})

	env := contracts.NewEnvelope(testMessage{})

	result, err := interceptor.Intercept(ctx, env, counting)
	require.NoError(t, err)
	assert.Equal(t, "handled", result)

	result, err = interceptor.Intercept(ctx, env, counting)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "DuplicateDetectionInterceptor", interceptor.Name())
}

func TestDuplicateDetectionLetsRetriesThrough(t *testing.T) {
	ctx := context.Background()
	interceptor := NewDuplicateDetectionInterceptor(NewMemoryDuplicateDetector(10))
	env := contracts.NewEnvelope(testMessage{})

	var calls int
	flaky := MessageHandlerFunc(func(ctx context.Context, env *contracts.Envelope) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("first attempt fails")
		}
		return nil, nil
	})

	_, err := interceptor.Intercept(ctx, env, flaky)
	assert.Error(t, err)
	_, err = interceptor.Intercept(ctx, env, flaky)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestMemoryDuplicateDetectorForgetsOldest(t *testing.T) {
	ctx := context.Background()
	detector := NewMemoryDuplicateDetector(2)

	for _, id := range []string{"a", "b", "c", "c"} {
		require.NoError(t, detector.MarkProcessed(ctx, id))
	}

	assert.Equal(t, 2, detector.Len())

	duplicate, err := detector.IsDuplicate(ctx, "a")
	require.NoError(t, err)
	assert.False(t, duplicate)

	duplicate, err = detector.IsDuplicate(ctx, "c")
	require.NoError(t, err)
	assert.True(t, duplicate)
}
