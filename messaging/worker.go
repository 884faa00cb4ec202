package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-bgmq/contracts"
)

// WorkerState is the lifecycle state of a Worker
type WorkerState int32

const (
	WorkerCreated WorkerState = iota
	WorkerRunning
	WorkerStopping
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerCreated:
		return "Created"
	case WorkerRunning:
		return "Running"
	case WorkerStopping:
		return "Stopping"
	case WorkerStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// Worker consumes one In or Priority queue of a QueueSet, passing every
// envelope to the set's handler. A worker runs at most once.
type Worker struct {
	set       *QueueSet
	queueName string
	logger    *slog.Logger

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(set *QueueSet, queueName string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		set:       set,
		queueName: queueName,
		logger:    logger.With("queue", queueName),
		done:      make(chan struct{}),
	}
}

// QueueName returns the queue consumed by the worker
func (w *Worker) QueueName() string {
	return w.queueName
}

// State returns the current lifecycle state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// GetStats returns the stats of the handler the worker feeds
func (w *Worker) GetStats() HandlerStats {
	return w.set.handler.GetStats()
}

// Start launches the consume loop. Starting a worker twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.CompareAndSwap(int32(WorkerCreated), int32(WorkerRunning)) {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop cancels the consume loop and waits for the in-flight message to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.state.CompareAndSwap(int32(WorkerCreated), int32(WorkerStopped)) {
		close(w.done)
		w.mu.Unlock()
		return
	}
	if w.State() == WorkerRunning {
		w.state.Store(int32(WorkerStopping))
		w.cancel()
	}
	w.mu.Unlock()

	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer func() {
		w.state.Store(int32(WorkerStopped))
		close(w.done)
	}()

	w.logger.Debug("worker started", "messageType", w.set.typeName)

	for {
		env, ok, err := w.set.TryTake(ctx, w.queueName, 0)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrQueueClosed) {
				w.logger.Error("worker failed to take message", "error", err)
			}
			break
		}
		if !ok {
			continue
		}

		// in-flight messages finish even when Stop cancels the loop
		w.process(context.WithoutCancel(ctx), env)
	}

	w.logger.Debug("worker stopped", "messageType", w.set.typeName)
}

func (w *Worker) process(ctx context.Context, env *contracts.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker recovered from panic", "messageId", env.ID, "panic", r)
		}
	}()

	w.set.handler.Process(ctx, w.queueName, env)
}
