package messaging

import (
	"context"
	"time"

	"github.com/glimte/mmate-bgmq/contracts"
)

// Client is the producer/consumer facade of a Broker. Handlers use it to
// requeue, dead-letter and reply without reaching into broker internals.
type Client struct {
	broker *Broker
}

// Publish routes env to queueName
func (c *Client) Publish(queueName string, env *contracts.Envelope) error {
	return c.broker.Publish(queueName, env)
}

// PublishBody wraps body in a new envelope and publishes it to the In queue of its type
func (c *Client) PublishBody(body any) (*contracts.Envelope, error) {
	if body == nil {
		return nil, &BrokerError{Op: "publish", Err: ErrInvalidArgument}
	}

	env := contracts.NewEnvelope(body)
	if err := c.broker.Publish(c.broker.queueNamesOf(env).In, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Notify routes env to queueName and informs every out handler
func (c *Client) Notify(queueName string, env *contracts.Envelope) error {
	return c.broker.Notify(queueName, env)
}

// Get dequeues an envelope from queueName whose body type has the key typeKey
// (see contracts.TypeKeyFor), waiting up to timeout. It returns nil without
// error when nothing arrived in time.
func (c *Client) Get(ctx context.Context, typeKey, queueName string, timeout time.Duration) (*contracts.Envelope, error) {
	return c.broker.get(ctx, typeKey, queueName, timeout)
}

// TryGet dequeues an envelope from queueName whose body type has the key
// typeKey without blocking
func (c *Client) TryGet(typeKey, queueName string) (*contracts.Envelope, error) {
	return c.broker.tryGet(typeKey, queueName)
}

// Ack confirms env. Envelopes leave their queue when they are taken, so there
// is nothing left to do: delivery is at-most-once.
func (c *Client) Ack(env *contracts.Envelope) {}

// Nak rejects env, sending it to the back of its type's In queue when requeue
// is set and to the type's dead-letter queue otherwise
func (c *Client) Nak(env *contracts.Envelope, requeue bool, err error) error {
	if env == nil {
		return &BrokerError{Op: "nak", Err: ErrInvalidArgument}
	}
	if env.Error == nil && err != nil {
		env.Error = contracts.NewResponseStatus(err)
	}

	names := c.broker.queueNamesOf(env)
	if requeue {
		return c.broker.Publish(names.In, env)
	}
	return c.broker.Publish(names.Dlq, env)
}
