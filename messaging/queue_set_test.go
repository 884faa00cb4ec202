package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-bgmq/contracts"
)

func newTestQueueSet(t *testing.T, outMaxSize int) (*QueueSet, contracts.QueueNames) {
	t.Helper()

	b := newTestBroker(t, WithOutMaxSize(outMaxSize))
	require.NoError(t, RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg placeOrder) (any, error) {
		return nil, nil
	}, WithThreadCount(3)))

	set, ok := QueueSetFor[placeOrder](b)
	require.True(t, ok)
	return set, set.QueueNames()
}

func TestQueueSet(t *testing.T) {
	t.Run("exposes its type and configuration", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		assert.Equal(t, "placeOrder", set.TypeName())
		assert.Equal(t, contracts.QueueNamesFor[placeOrder](), names)
		assert.Equal(t, 3, set.ThreadCount())
		assert.Equal(t, "placeOrder", set.Handler().TypeName())
	})

	t.Run("counts adds per queue kind", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		require.NoError(t, set.Add(names.In, contracts.NewEnvelope(placeOrder{Number: 1})))
		require.NoError(t, set.Add(names.Priority, contracts.NewEnvelope(placeOrder{Number: 2})))
		require.NoError(t, set.Add(names.Dlq, contracts.NewEnvelope(placeOrder{Number: 3})))
		require.NoError(t, set.Add(names.Out, contracts.NewEnvelope(placeOrder{Number: 4})))

		added, taken, outAdded, dlqAdded := set.Counters()
		assert.Equal(t, int64(2), added)
		assert.Equal(t, int64(0), taken)
		assert.Equal(t, int64(1), outAdded)
		assert.Equal(t, int64(1), dlqAdded)
	})

	t.Run("counts takes only from In and Priority", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)
		for _, name := range names.All() {
			require.NoError(t, set.Add(name, contracts.NewEnvelope(placeOrder{})))
		}

		for _, name := range names.All() {
			env, ok, err := set.TryTake(context.Background(), name, time.Millisecond)
			require.NoError(t, err)
			require.True(t, ok, name)
			require.NotNil(t, env)
		}

		_, taken, _, _ := set.Counters()
		assert.Equal(t, int64(2), taken)
	})

	t.Run("TryTake times out on an empty queue", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		env, ok, err := set.TryTake(context.Background(), names.In, 10*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, env)

		env, ok, err = set.TakeNow(names.In)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, env)
	})

	t.Run("rejects queues outside the set", func(t *testing.T) {
		set, _ := newTestQueueSet(t, 10)

		assert.ErrorIs(t, set.Add("elsewhere", contracts.NewEnvelope(placeOrder{})), ErrUnknownQueue)
		_, _, err := set.TryTake(context.Background(), "elsewhere", time.Millisecond)
		assert.ErrorIs(t, err, ErrUnknownQueue)
		_, err = set.Clear("elsewhere")
		assert.ErrorIs(t, err, ErrUnknownQueue)
		assert.Equal(t, 0, set.Len("elsewhere"))
		assert.Nil(t, set.Snapshot("elsewhere"))
	})

	t.Run("evicts the oldest out entries", func(t *testing.T) {
		set, names := newTestQueueSet(t, 2)
		for i := 1; i <= 5; i++ {
			require.NoError(t, set.Add(names.Out, contracts.NewEnvelope(placeOrder{Number: i})))
		}

		out := set.Snapshot(names.Out)
		require.Len(t, out, 2)
		first, _ := contracts.BodyAs[placeOrder](out[0])
		last, _ := contracts.BodyAs[placeOrder](out[1])
		assert.Equal(t, 4, first.Number)
		assert.Equal(t, 5, last.Number)
	})

	t.Run("Clear drains a queue without processing", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)
		for i := 0; i < 3; i++ {
			require.NoError(t, set.Add(names.Dlq, contracts.NewEnvelope(placeOrder{Number: i})))
		}

		dropped, err := set.Clear(names.Dlq)
		require.NoError(t, err)
		assert.Equal(t, 3, dropped)
		assert.Equal(t, 0, set.Len(names.Dlq))
	})

	t.Run("creates workers only for In and Priority", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		worker, err := set.CreateWorker(names.In)
		require.NoError(t, err)
		assert.Equal(t, names.In, worker.QueueName())
		assert.Equal(t, WorkerCreated, worker.State())

		_, err = set.CreateWorker(names.Priority)
		require.NoError(t, err)

		_, err = set.CreateWorker(names.Dlq)
		assert.ErrorIs(t, err, ErrUnknownQueue)
		_, err = set.CreateWorker(names.Out)
		assert.ErrorIs(t, err, ErrUnknownQueue)
	})

	t.Run("describes depths and totals", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)
		require.NoError(t, set.Add(names.In, contracts.NewEnvelope(placeOrder{})))
		require.NoError(t, set.Add(names.In, contracts.NewEnvelope(placeOrder{})))

		desc := set.GetDescriptionMap()
		assert.Equal(t, "placeOrder", desc["type"])
		assert.Equal(t, 3, desc["threadCount"])
		assert.Equal(t, 10, desc["outMaxSize"])
		assert.Equal(t, 2, desc[names.In])
		assert.Equal(t, 0, desc[names.Dlq])
		assert.Equal(t, int64(2), desc["totalAdded"])

		text := set.GetDescription()
		assert.Contains(t, text, "placeOrder:")
		assert.Contains(t, text, "ThreadCount: 3")
		assert.Contains(t, text, names.In+": 2")
		assert.Contains(t, text, "TotalAdded: 2")
	})

	t.Run("Close rejects adds and releases takers", func(t *testing.T) {
		set, names := newTestQueueSet(t, 10)

		errs := make(chan error, 1)
		go func() {
			_, _, err := set.TryTake(context.Background(), names.In, 0)
			errs <- err
		}()

		time.Sleep(10 * time.Millisecond)
		set.Close()

		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrQueueClosed)
		case <-time.After(waitFor):
			t.Fatal("taker was not released")
		}
		assert.ErrorIs(t, set.Add(names.In, contracts.NewEnvelope(placeOrder{})), ErrQueueClosed)
	})
}
