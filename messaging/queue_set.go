package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/internal/queue"
)

// QueueSet holds the In, Priority, Dlq and Out queues of one message type
// together with the handler shared by all of the type's workers.
type QueueSet struct {
	typeName    string
	names       contracts.QueueNames
	queues      map[string]*queue.Queue[*contracts.Envelope]
	handler     *Handler
	threadCount int
	outMaxSize  int

	added    atomic.Int64
	taken    atomic.Int64
	outAdded atomic.Int64
	dlqAdded atomic.Int64
}

func newQueueSet(typeName string, names contracts.QueueNames, handler *Handler, threadCount, outMaxSize int) *QueueSet {
	queues := make(map[string]*queue.Queue[*contracts.Envelope], 4)
	for _, name := range names.All() {
		queues[name] = queue.New[*contracts.Envelope]()
	}

	return &QueueSet{
		typeName:    typeName,
		names:       names,
		queues:      queues,
		handler:     handler,
		threadCount: threadCount,
		outMaxSize:  outMaxSize,
	}
}

// TypeName returns the message type served by this set
func (s *QueueSet) TypeName() string {
	return s.typeName
}

// QueueNames returns the four queue names of the set
func (s *QueueSet) QueueNames() contracts.QueueNames {
	return s.names
}

// ThreadCount returns the number of workers started per In and Priority queue
func (s *QueueSet) ThreadCount() int {
	return s.threadCount
}

// Handler returns the handler shared by the set's workers
func (s *QueueSet) Handler() *Handler {
	return s.handler
}

// Add enqueues env. Adding to the out queue evicts the oldest entries beyond OutMaxSize.
func (s *QueueSet) Add(queueName string, env *contracts.Envelope) error {
	q, err := s.queue(queueName)
	if err != nil {
		return err
	}

	if err := q.Add(env); err != nil {
		return &BrokerError{Op: "add", MessageType: s.typeName, Queue: queueName, Err: err}
	}

	switch queueName {
	case s.names.Out:
		q.TrimFront(s.outMaxSize)
		s.outAdded.Add(1)
	case s.names.Dlq:
		s.dlqAdded.Add(1)
	default:
		s.added.Add(1)
	}
	return nil
}

// TryTake dequeues from queueName, waiting up to timeout (until ctx is done when timeout <= 0).
// ok is false when nothing arrived in time.
func (s *QueueSet) TryTake(ctx context.Context, queueName string, timeout time.Duration) (*contracts.Envelope, bool, error) {
	q, err := s.queue(queueName)
	if err != nil {
		return nil, false, err
	}

	env, ok, err := q.Take(ctx, timeout)
	if err != nil || !ok {
		return nil, false, err
	}

	s.countTake(queueName)
	return env, true, nil
}

// TakeNow dequeues from queueName without blocking
func (s *QueueSet) TakeNow(queueName string) (*contracts.Envelope, bool, error) {
	q, err := s.queue(queueName)
	if err != nil {
		return nil, false, err
	}

	env, ok := q.TryTake()
	if ok {
		s.countTake(queueName)
	}
	return env, ok, nil
}

// Clear drains queueName without processing and returns how many envelopes were dropped
func (s *QueueSet) Clear(queueName string) (int, error) {
	q, err := s.queue(queueName)
	if err != nil {
		return 0, err
	}
	return q.Clear(), nil
}

// Len returns the depth of queueName, or 0 for a queue outside the set
func (s *QueueSet) Len(queueName string) int {
	q, ok := s.queues[queueName]
	if !ok {
		return 0
	}
	return q.Len()
}

// Snapshot returns the envelopes queued on queueName without removing them
func (s *QueueSet) Snapshot(queueName string) []*contracts.Envelope {
	q, ok := s.queues[queueName]
	if !ok {
		return nil
	}
	return q.Snapshot()
}

// CreateWorker builds a worker consuming queueName with the set's handler
func (s *QueueSet) CreateWorker(queueName string) (*Worker, error) {
	if queueName != s.names.In && queueName != s.names.Priority {
		return nil, &BrokerError{Op: "create worker", MessageType: s.typeName, Queue: queueName, Err: ErrUnknownQueue}
	}
	return newWorker(s, queueName, s.handler.logger), nil
}

// Counters returns the added, taken, out and dead-letter totals
func (s *QueueSet) Counters() (added, taken, outAdded, dlqAdded int64) {
	return s.added.Load(), s.taken.Load(), s.outAdded.Load(), s.dlqAdded.Load()
}

// GetDescriptionMap returns the set's configuration, depths and totals
func (s *QueueSet) GetDescriptionMap() map[string]any {
	added, taken, outAdded, dlqAdded := s.Counters()
	desc := map[string]any{
		"type":        s.typeName,
		"threadCount": s.threadCount,
		"outMaxSize":  s.outMaxSize,
		"totalAdded":  added,
		"totalTaken":  taken,
		"totalOut":    outAdded,
		"totalDlq":    dlqAdded,
	}
	for _, name := range s.names.All() {
		desc[name] = s.Len(name)
	}
	return desc
}

// GetDescription returns a human readable dump of GetDescriptionMap
func (s *QueueSet) GetDescription() string {
	added, taken, outAdded, dlqAdded := s.Counters()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", s.typeName)
	fmt.Fprintf(&sb, "  ThreadCount: %d\n", s.threadCount)
	for _, name := range s.names.All() {
		fmt.Fprintf(&sb, "  %s: %d\n", name, s.Len(name))
	}
	fmt.Fprintf(&sb, "  TotalAdded: %d, TotalTaken: %d, TotalOut: %d, TotalDlq: %d\n", added, taken, outAdded, dlqAdded)
	return sb.String()
}

// Close releases blocked consumers and rejects further adds
func (s *QueueSet) Close() {
	for _, q := range s.queues {
		q.Close()
	}
}

func (s *QueueSet) queue(queueName string) (*queue.Queue[*contracts.Envelope], error) {
	q, ok := s.queues[queueName]
	if !ok {
		return nil, &BrokerError{Op: "lookup", MessageType: s.typeName, Queue: queueName, Err: ErrUnknownQueue}
	}
	return q, nil
}

func (s *QueueSet) countTake(queueName string) {
	if queueName == s.names.In || queueName == s.names.Priority {
		s.taken.Add(1)
	}
}
