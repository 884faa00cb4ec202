package messaging

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type placeOrder struct {
	Number int
}

type orderPlaced struct {
	Number int
}

type failingMsg struct {
	Number int
}

type flakyMsg struct {
	Number int
}

type unregisteredMsg struct {
	Text string
}

type workItem struct {
	Number   int
	Priority bool
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T, options ...BrokerOption) *Broker {
	t.Helper()

	b := NewBroker(append([]BrokerOption{WithLogger(discardLogger())}, options...)...)
	t.Cleanup(func() {
		require.NoError(t, b.Dispose())
	})
	return b
}

// recorder collects values from handler goroutines
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T{}, r.values...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
