package messaging

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bgmq/contracts"
)

func TestWorker(t *testing.T) {
	t.Run("moves through its states", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		worker, err := set.CreateWorker(names.In)
		require.NoError(t, err)
		assert.Equal(t, WorkerCreated, worker.State())

		worker.Start(context.Background())
		assert.Equal(t, WorkerRunning, worker.State())

		worker.Stop()
		assert.Equal(t, WorkerStopped, worker.State())

		worker.Stop()
		worker.Start(context.Background())
		assert.Equal(t, WorkerStopped, worker.State())
	})

	t.Run("stopping a worker that never ran", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		worker, err := set.CreateWorker(names.Priority)
		require.NoError(t, err)

		worker.Stop()
		assert.Equal(t, WorkerStopped, worker.State())
	})

	t.Run("feeds envelopes to the shared handler", func(t *testing.T) {
		b := newTestBroker(t)
		var processed atomic.Int32
		require.NoError(t, RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg workItem) (any, error) {
			processed.Add(1)
			return nil, nil
		}))

		set, _ := QueueSetFor[workItem](b)
		names := set.QueueNames()
		first, err := set.CreateWorker(names.In)
		require.NoError(t, err)
		second, err := set.CreateWorker(names.Priority)
		require.NoError(t, err)

		first.Start(context.Background())
		second.Start(context.Background())
		defer first.Stop()
		defer second.Stop()

		require.NoError(t, set.Add(names.In, contracts.NewEnvelope(workItem{Number: 1})))
		require.NoError(t, set.Add(names.Priority, contracts.NewEnvelope(workItem{Number: 2, Priority: true})))

		assert.Eventually(t, func() bool { return first.GetStats().TotalMessagesReceived() == 2 }, waitFor, tick)
		assert.Equal(t, int32(2), processed.Load())
		assert.Equal(t, first.GetStats(), second.GetStats())
		assert.Equal(t, int64(1), first.GetStats().TotalPriorityMessagesReceived)
	})

	t.Run("keeps running after a handler panic", func(t *testing.T) {
		b := newTestBroker(t, WithRetryCount(0))
		var calls atomic.Int32
		require.NoError(t, RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg failingMsg) (any, error) {
			if calls.Add(1) == 1 {
				panic("first message breaks")
			}
			return nil, nil
		}))

		set, _ := QueueSetFor[failingMsg](b)
		worker, err := set.CreateWorker(set.QueueNames().In)
		require.NoError(t, err)
		worker.Start(context.Background())
		defer worker.Stop()

		require.NoError(t, set.Add(set.QueueNames().In, contracts.NewEnvelope(failingMsg{Number: 1})))
		require.NoError(t, set.Add(set.QueueNames().In, contracts.NewEnvelope(failingMsg{Number: 2})))

		assert.Eventually(t, func() bool { return worker.GetStats().TotalMessagesProcessed == 1 }, waitFor, tick)
		assert.Equal(t, WorkerRunning, worker.State())
	})

	t.Run("waits for the in-flight message on Stop", func(t *testing.T) {
		b := newTestBroker(t)
		started := make(chan struct{})
		var finished atomic.Bool
		require.NoError(t, RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg workItem) (any, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			finished.Store(ctx.Err() == nil)
			return nil, nil
		}))

		set, _ := QueueSetFor[workItem](b)
		worker, err := set.CreateWorker(set.QueueNames().In)
		require.NoError(t, err)
		worker.Start(context.Background())

		require.NoError(t, set.Add(set.QueueNames().In, contracts.NewEnvelope(workItem{Number: 1})))
		<-started
		worker.Stop()

		assert.True(t, finished.Load())
		assert.Equal(t, WorkerStopped, worker.State())
	})
}

func TestWorkerStateString(t *testing.T) {
	assert.Equal(t, "Created", WorkerCreated.String())
	assert.Equal(t, "Running", WorkerRunning.String())
	assert.Equal(t, "Stopping", WorkerStopping.String())
	assert.Equal(t, "Stopped", WorkerStopped.String())
	assert.Equal(t, "WorkerState(9)", WorkerState(9).String())
}
