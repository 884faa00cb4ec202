package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the reply client refuses to publish
var ErrCircuitOpen = errors.New("rabbitmq: circuit breaker open")

// BreakerState is the state of a reply client's circuit breaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("BreakerState(%d)", int(s))
	}
}

// breaker opens after threshold consecutive failures and lets a single probe
// through once openFor has passed
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	openFor   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func newBreaker(threshold int, openFor time.Duration, logger *slog.Logger) *breaker {
	return &breaker{
		threshold: threshold,
		openFor:   openFor,
		now:       time.Now,
		logger:    logger,
	}
}

func (b *breaker) allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		retryAt := b.openedAt.Add(b.openFor)
		if b.now().Before(retryAt) {
			return fmt.Errorf("%w: retry after %s", ErrCircuitOpen, retryAt.Format(time.RFC3339))
		}
		b.transition(BreakerHalfOpen, "open timeout expired")
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: probe in flight", ErrCircuitOpen)
		}
		b.probing = true
	}
	return nil
}

func (b *breaker) record(err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.transition(BreakerClosed, "probe succeeded")
		}
		return
	}

	b.failures++
	switch {
	case b.state == BreakerHalfOpen:
		b.openedAt = b.now()
		b.transition(BreakerOpen, "probe failed")
	case b.state == BreakerClosed && b.failures >= b.threshold:
		b.openedAt = b.now()
		b.transition(BreakerOpen, fmt.Sprintf("failure threshold reached (%d/%d)", b.failures, b.threshold))
	}
}

func (b *breaker) current() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with mu held
func (b *breaker) transition(to BreakerState, reason string) {
	b.logger.Warn("reply circuit breaker state changed",
		"from", b.state.String(),
		"to", to.String(),
		"reason", reason)
	b.state = to
}
