package messaging

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-bgmq/internal/queue"
)

var (
	// Lifecycle errors
	ErrBrokerDisposed   = errors.New("broker: disposed")
	ErrBrokerNotStarted = errors.New("broker: not started")
	ErrBrokerStarted    = errors.New("broker: handlers must be registered before Start")

	// Registration and routing errors
	ErrHandlerAlreadyRegistered = errors.New("broker: handler already registered")
	ErrInvalidArgument          = errors.New("broker: invalid argument")
	ErrUnknownQueue             = errors.New("broker: unknown queue")

	// ErrQueueClosed is returned when a queue set has been closed by Dispose
	ErrQueueClosed = queue.ErrClosed
)

// BrokerError adds the operation and routing context to a broker error
type BrokerError struct {
	Op          string
	MessageType string
	Queue       string
	Err         error
}

func (e *BrokerError) Error() string {
	switch {
	case e.Queue != "" && e.MessageType != "":
		return fmt.Sprintf("%s %s on %s: %v", e.Op, e.MessageType, e.Queue, e.Err)
	case e.Queue != "":
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Queue, e.Err)
	case e.MessageType != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.MessageType, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}
