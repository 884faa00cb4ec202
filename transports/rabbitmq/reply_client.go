package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/messaging"
)

// DefaultQueuePrefix marks ReplyTo queues that live on RabbitMQ
const DefaultQueuePrefix = "amqp:"

// Channel is the part of *amqp.Channel used to publish replies
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ReplyClient sends responses to RabbitMQ queues named by a prefixed ReplyTo
type ReplyClient struct {
	channel    Channel
	conn       io.Closer
	prefix     string
	exchange   string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	breaker    *breaker

	breakerThreshold int
	breakerOpenFor   time.Duration

	mu     sync.RWMutex
	closed bool
}

// ReplyClientOption configures a ReplyClient
type ReplyClientOption func(*ReplyClient)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ReplyClientOption {
	return func(c *ReplyClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithQueuePrefix sets the ReplyTo prefix routed to RabbitMQ
func WithQueuePrefix(prefix string) ReplyClientOption {
	return func(c *ReplyClient) {
		c.prefix = prefix
	}
}

// WithExchange publishes through exchange instead of the default one
func WithExchange(exchange string) ReplyClientOption {
	return func(c *ReplyClient) {
		c.exchange = exchange
	}
}

// WithPublishTimeout bounds each publish attempt
func WithPublishTimeout(timeout time.Duration) ReplyClientOption {
	return func(c *ReplyClient) {
		c.timeout = timeout
	}
}

// WithRetry sets how often and how far apart failed publishes are retried
func WithRetry(maxRetries int, delay time.Duration) ReplyClientOption {
	return func(c *ReplyClient) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithCircuitBreaker stops publishing for openFor after threshold consecutive
// failed replies, so the broker falls back to its own queues without waiting
// on a dead connection
func WithCircuitBreaker(threshold int, openFor time.Duration) ReplyClientOption {
	return func(c *ReplyClient) {
		c.breakerThreshold = threshold
		c.breakerOpenFor = openFor
	}
}

// NewReplyClient creates a reply client publishing on ch
func NewReplyClient(ch Channel, options ...ReplyClientOption) (*ReplyClient, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidConfiguration)
	}

	c := &ReplyClient{
		channel:    ch,
		prefix:     DefaultQueuePrefix,
		timeout:    5 * time.Second,
		maxRetries: 2,
		retryDelay: 100 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.prefix == "" {
		return nil, fmt.Errorf("%w: queue prefix is required", ErrInvalidConfiguration)
	}
	if c.maxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfiguration)
	}
	if c.breakerThreshold > 0 {
		c.breaker = newBreaker(c.breakerThreshold, c.breakerOpenFor, c.logger)
	}
	return c, nil
}

// Dial connects to url and returns a reply client owning the connection
func Dial(ctx context.Context, url string, options ...ReplyClientOption) (*ReplyClient, error) {
	conn, err := dial(ctx, url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{URL: SanitizeURL(url), Err: err, Timestamp: time.Now()}
	}

	c, err := NewReplyClient(ch, options...)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	c.conn = conn
	c.logger.Info("connected to RabbitMQ", "url", SanitizeURL(url))
	return c, nil
}

func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := amqp.Dial(url)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &ConnectionError{URL: SanitizeURL(url), Err: r.err, Timestamp: time.Now()}
		}
		return r.conn, nil
	case <-ctx.Done():
		// the dial may still succeed; close whatever it returns
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, &ConnectionError{URL: SanitizeURL(url), Err: ErrConnectionTimeout, Timestamp: time.Now()}
	}
}

// Handles reports whether queue is routed to RabbitMQ
func (c *ReplyClient) Handles(queue string) bool {
	return strings.HasPrefix(queue, c.prefix) && len(queue) > len(c.prefix)
}

// NewReplyClientFactory returns a messaging.ReplyClientFactory that hands out
// c for prefixed queues and nil for everything else
func NewReplyClientFactory(c *ReplyClient) messaging.ReplyClientFactory {
	return func(queue string) messaging.ReplyClient {
		if c.Handles(queue) {
			return c
		}
		return nil
	}
}

// SendOneWay publishes dto as JSON to the RabbitMQ queue named by queue
func (c *ReplyClient) SendOneWay(ctx context.Context, queue string, dto any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}
	if !c.Handles(queue) {
		return fmt.Errorf("%w: %q", ErrUnsupportedQueue, queue)
	}

	msg, err := c.publishing(dto)
	if err != nil {
		return err
	}
	if err := c.breaker.allow(); err != nil {
		return err
	}

	err = c.send(ctx, strings.TrimPrefix(queue, c.prefix), msg)
	c.breaker.record(err)
	return err
}

// BreakerState returns the circuit breaker state; always closed without one
func (c *ReplyClient) BreakerState() BreakerState {
	return c.breaker.current()
}

func (c *ReplyClient) send(ctx context.Context, key string, msg amqp.Publishing) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			case <-ctx.Done():
				return &PublishError{Exchange: c.exchange, RoutingKey: key, Attempts: attempt, Err: ctx.Err(), Timestamp: time.Now()}
			}
		}

		if lastErr = c.publish(ctx, key, msg); lastErr == nil {
			c.logger.Debug("reply published",
				"queue", key,
				"messageId", msg.MessageId,
				"messageType", msg.Type,
				"attempt", attempt+1)
			return nil
		}

		c.logger.Warn("reply publish failed",
			"queue", key,
			"attempt", attempt+1,
			"error", lastErr)
	}

	return &PublishError{
		Exchange:   c.exchange,
		RoutingKey: key,
		Attempts:   c.maxRetries + 1,
		Err:        lastErr,
		Timestamp:  time.Now(),
	}
}

func (c *ReplyClient) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.channel.PublishWithContext(ctx, c.exchange, key, false, false, msg)
}

func (c *ReplyClient) publishing(dto any) (amqp.Publishing, error) {
	body, err := json.Marshal(dto)
	if err != nil {
		return amqp.Publishing{}, contracts.NonRetryable(fmt.Errorf("failed to marshal reply: %w", err))
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    uuid.New().String(),
		Type:         contracts.TypeNameOf(dto),
		Body:         body,
	}
	if env, ok := dto.(*contracts.Envelope); ok {
		msg.MessageId = env.ID
		msg.Type = env.TypeName()
		msg.CorrelationId = env.ReplyID
	}
	return msg, nil
}

// Close closes the channel and, for dialled clients, the connection
func (c *ReplyClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.channel.Close()
	if c.conn != nil {
		if cerr := c.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
