package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/messaging"
	"github.com/glimte/mmate-bgmq/schema"
)

// PlaceOrder asks for an order to be accepted
type PlaceOrder struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

// OrderPlaced is the response to an accepted PlaceOrder
type OrderPlaced struct {
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

var errPaymentGateway = errors.New("payment gateway unavailable")

// demoValidator rejects orders without an id or a positive amount before
// they reach the handler
func demoValidator() (*schema.Validator, error) {
	validator := schema.NewValidator()
	err := schema.RegisterFor[PlaceOrder](validator, &schema.Schema{
		Required: []string{"orderId", "amount"},
		Properties: map[string]*schema.Property{
			"orderId": {Type: "string", MinLength: schema.Int(1)},
			"amount":  {Type: "number", Minimum: schema.Float(0.01)},
		},
	})
	return validator, err
}

// registerDemoHandlers wires the order flow: PlaceOrder responses are routed
// to the OrderPlaced In queue, whose handler is one-way.
// failureRate is the chance a PlaceOrder attempt fails with a retryable error.
func registerDemoHandlers(b *messaging.Broker, threads int, failureRate float64, logger *slog.Logger) error {
	err := messaging.RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg PlaceOrder) (any, error) {
		if failureRate > 0 && rand.Float64() < failureRate {
			return nil, errPaymentGateway
		}
		return OrderPlaced{OrderID: msg.OrderID, Amount: msg.Amount}, nil
	}, messaging.WithThreadCount(threads))
	if err != nil {
		return err
	}

	return messaging.RegisterHandler(b, func(ctx context.Context, env *contracts.Envelope, msg OrderPlaced) (any, error) {
		logger.Debug("order placed", "orderId", msg.OrderID, "amount", msg.Amount, "replyId", env.ReplyID)
		return nil, nil
	}, messaging.WithThreadCount(threads))
}

// publishOrder publishes order n. Every tenth order is invalid and, when
// priority is set, every fifth goes to the priority queue.
func publishOrder(b *messaging.Broker, n int, priority bool) error {
	order := PlaceOrder{
		OrderID: fmt.Sprintf("order-%d", n),
		Amount:  float64(n%50) + 9.99,
	}
	if n%10 == 0 {
		order.Amount = 0
	}

	set, ok := messaging.QueueSetFor[PlaceOrder](b)
	if !ok {
		return fmt.Errorf("%w: PlaceOrder", messaging.ErrUnknownQueue)
	}
	queue := set.QueueNames().In
	if priority && n%5 == 0 {
		queue = set.QueueNames().Priority
	}

	env := contracts.NewEnvelope(order)
	env.Tag = "demo"
	return b.Publish(queue, env)
}

// settledOrders counts orders that reached a final state: placed or dead-lettered
func settledOrders(b *messaging.Broker) int64 {
	var settled int64
	if placed, ok := messaging.QueueSetFor[OrderPlaced](b); ok {
		settled += placed.Handler().GetStats().TotalMessagesProcessed
	}
	if orders, ok := messaging.QueueSetFor[PlaceOrder](b); ok {
		_, _, _, dlq := orders.Counters()
		settled += dlq
	}
	return settled
}
