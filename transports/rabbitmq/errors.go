package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrClientClosed         = errors.New("rabbitmq: reply client is closed")
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
	ErrUnsupportedQueue     = errors.New("rabbitmq: queue is not routed to rabbitmq")
	ErrConnectionTimeout    = errors.New("rabbitmq: connection timeout")
)

// ConnectionError represents a failed dial
type ConnectionError struct {
	URL       string // sanitized
	Err       error
	Timestamp time.Time
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: dial %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError represents a reply that could not be published
type PublishError struct {
	Exchange   string
	RoutingKey string
	Attempts   int
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %q/%q after %d attempts: %v",
		e.Exchange, e.RoutingKey, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SanitizeURL hides the password of an AMQP URL
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
