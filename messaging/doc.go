// Package messaging provides the in-process background message broker.
//
// This package implements:
//   - Broker: owns the type to QueueSet registry and the worker pools
//   - QueueSet: the In, Priority, Dlq and Out queues of one message type
//   - Worker: a goroutine consuming one In or Priority queue
//   - Handler: runs the process function and routes retries, dead letters and responses
//   - Client: the producer/consumer facade used by callers and handlers
//   - StatsCollector: Prometheus view of queue depths and handler counters
//
// Delivery is at-most-once. An envelope leaves its queue when a worker takes
// it, so Ack does nothing and only Nak has an effect: the envelope goes to the
// back of the In queue for another attempt, or to the Dlq once its retries are
// used up or the error is not retryable.
//
// FIFO order holds within a single queue consumed by one worker. Priority
// queues get their own workers and are drained concurrently with the In
// queue; a priority message is not guaranteed to be processed before a normal
// one.
//
// Example usage:
//
//	broker := messaging.NewBroker(
//		messaging.WithLogger(logger),
//		messaging.WithRetryCount(2),
//	)
//
//	err := messaging.RegisterHandler(broker,
//		func(ctx context.Context, env *contracts.Envelope, order PlaceOrder) (any, error) {
//			return OrderPlaced{Number: order.Number}, nil
//		},
//		messaging.WithThreadCount(4),
//	)
//
//	if err := broker.Start(); err != nil {
//		return err
//	}
//	defer broker.Dispose()
//
//	names := contracts.QueueNamesFor[PlaceOrder]()
//	err = broker.Publish(names.In, contracts.NewEnvelope(PlaceOrder{Number: 1}))
//
//	placed, err := messaging.Get[OrderPlaced](ctx, broker, contracts.QueueNamesFor[OrderPlaced]().In, time.Second)
package messaging
